package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kolscope/kolscope/internal/analyzer"
	"github.com/kolscope/kolscope/internal/logging"
)

func analyzeCmd() *cobra.Command {
	var (
		language string
		mode     string
		force    bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <handle>",
		Short: "Generate a trust report for a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured("text", cfg.Server.LogLevel)
			logging.Default().SetConsole(false)

			ctx := context.Background()
			svc, store, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			resp, aerr := svc.Analyze(ctx, analyzer.Request{
				Query:          args[0],
				Language:       language,
				Mode:           mode,
				ForceRefresh:   force,
				ClientIdentity: "cli:" + hostname(),
			})
			if aerr != nil {
				return fmt.Errorf("%s: %s", aerr.Kind, aerr.Message)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			printReport(resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "en", "Report language (en, zh)")
	cmd.Flags().StringVar(&mode, "mode", "quick", "Analysis mode (quick, deep)")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the report cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func printReport(resp *analyzer.Response) {
	r := resp.Report

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Handle:\t@%s\n", r.Handle)
	if r.DisplayName != "" && r.DisplayName != r.Handle {
		fmt.Fprintf(w, "Name:\t%s\n", r.DisplayName)
	}
	fmt.Fprintf(w, "Score:\t%d/100\n", r.TrustScore)
	fmt.Fprintf(w, "Verdict:\t%s\n", r.Verdict)
	fmt.Fprintf(w, "Source:\t%s", resp.Source)
	if resp.Source == "cache" {
		fmt.Fprintf(w, " (stored %s)", resp.CachedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w)
	w.Flush()

	fmt.Printf("\n%s\n", r.Summary)

	if len(r.RiskFactors) > 0 {
		fmt.Println("\nRisk factors:")
		for _, f := range r.RiskFactors {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(r.PositiveSignals) > 0 {
		fmt.Println("\nPositive signals:")
		for _, s := range r.PositiveSignals {
			fmt.Printf("  + %s\n", s)
		}
	}
	if len(r.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range r.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Printf("  %s\n    %s\n", strings.TrimSpace(title), c.URL)
		}
	}
}
