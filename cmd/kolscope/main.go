package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolscope/kolscope/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "kolscope",
		Short: "KOLScope - trust reports for public social accounts",
		Long:  "Generates cached, rate limited AI trust reports for public social accounts",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (JSON or YAML)")

	rootCmd.AddCommand(
		serveCmd(),
		analyzeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration: defaults, then the config
// file when given, then environment overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("KOLSCOPE_CONFIG")
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
