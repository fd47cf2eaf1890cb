// Package controller contains the HTTP API surface of scraperd.
package controller

import (
	"context"
	"net/http"
	"time"

	"scraperd/internal/controller/handlers"
	"scraperd/internal/controller/middleware"
)

// Server is the HTTP server for the scraperd API.
type Server struct {
	httpServer *http.Server
}

// Options configures the server beyond its handler dependencies.
type Options struct {
	Addr string
	// Metrics is the /metrics handler, nil disables the endpoint.
	Metrics http.Handler
	// RateLimitRPS caps requests per client IP, 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new API server.
func New(opts Options, h *handlers.Handlers) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/scraper/list", h.ListScrapers)
	mux.HandleFunc("POST /api/scraper/request", h.SubmitJob)
	mux.HandleFunc("GET /api/scraper/pending", h.ListPending)
	mux.HandleFunc("GET /api/scraper/running", h.ListRunning)
	mux.HandleFunc("POST /api/scraper/approve/{id}", h.ApproveJob)
	mux.HandleFunc("POST /api/scraper/dismiss/{id}", h.DismissJob)
	mux.HandleFunc("GET /api/scraper/job/{id}", h.GetJob)
	mux.HandleFunc("GET /api/scraper/history", h.History)
	mux.HandleFunc("GET /api/scraper/statistics", h.Statistics)
	mux.HandleFunc("GET /api/scraper/logs/{id}", h.StreamLogs)
	mux.HandleFunc("POST /api/cron/trigger", h.TriggerCron)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	var handler http.Handler = mux
	handler = middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst)(handler)
	handler = middleware.RequestID(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:        opts.Addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			// No WriteTimeout: the log endpoint streams SSE for the
			// lifetime of a job.
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
