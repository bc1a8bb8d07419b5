// Package api exposes the analysis core over HTTP: one JSON analyze
// endpoint plus health and metrics. Error kinds from the orchestrator map
// onto stable HTTP statuses so clients can branch without string matching.
package api

import (
	"net/http"
	"time"

	"github.com/kolscope/kolscope/internal/analyzer"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/observability"
)

// ServerConfig holds the dependencies for the HTTP server.
type ServerConfig struct {
	Analyzer *analyzer.Service
	// Ping reports blob store reachability for the health endpoint.
	// Optional; when nil the store check is skipped.
	Ping func() error
}

// StartHTTPServer starts the HTTP API server on the given address.
// The returned server is already listening; the caller owns Shutdown.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	h := NewHandler(cfg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
