package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolscope/kolscope/internal/api"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/observability"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
		logFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Server.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Server.LogFormat, cfg.Server.LogLevel)
			if logFile != "" {
				if err := logging.Default().SetOutput(logFile); err != nil {
					return err
				}
				defer logging.Default().Close()
			}

			ctx := context.Background()
			if err := observability.Init(ctx, cfg.Telemetry); err != nil {
				logging.Op().Warn("telemetry init failed, continuing without tracing", "error", err)
			}

			svc, store, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if !cfg.AI.Enabled {
				logging.Op().Warn("AI research disabled, analyze requests will fail upstream")
			}

			server := api.StartHTTPServer(cfg.Server.HTTPAddr, api.ServerConfig{
				Analyzer: svc,
				Ping: func() error {
					pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()
					return store.Ping(pingCtx)
				},
			})
			logging.Op().Info("kolscope listening",
				"addr", cfg.Server.HTTPAddr,
				"store", cfg.Store.Backend,
				"model", cfg.AI.Model)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
			observability.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Append JSON request logs to this file")

	return cmd
}
