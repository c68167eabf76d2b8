package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	httpServer *http.Server
	port       int
}

// NewServer creates the health and metrics server.
func NewServer(port int, health *HealthChecker) *Server {
	return &Server{
		port: port,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      Handler(health),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the observability routes.
func Handler(health *HealthChecker) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", health.ReadyHandler())

	// Metrics endpoint; runtime gauges are sampled on scrape.
	metrics := MetricsHandler()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		CollectRuntime()
		metrics.ServeHTTP(w, r)
	}))

	return mux
}

// Start starts the observability server. It blocks until the server stops
// and returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
