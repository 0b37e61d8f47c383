// Package server exposes pipeline status over HTTP: health, counters, the
// live item table, Prometheus metrics and a websocket stream of transitions.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
)

// StatusSource is the read-only view of a running orchestrator.
type StatusSource interface {
	Stats() orchestrator.StatsSnapshot
	Items() []orchestrator.WorkItem
	Active() int
}

// RateLimitConfig limits requests per client IP. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
}

// Config holds server configuration.
type Config struct {
	Enabled       bool            `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host          string          `mapstructure:"host" yaml:"host" json:"host"`
	Port          int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin    string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	StatsInterval time.Duration   `mapstructure:"stats_interval" yaml:"stats_interval" json:"stats_interval"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// DefaultConfig listens on localhost:8080 with the server disabled.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8080,
		CORSOrigin:    "*",
		StatsInterval: 5 * time.Second,
		RateLimit:     RateLimitConfig{RequestsPerMinute: 120},
	}
}

// Validate checks the listen address and intervals.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.StatsInterval <= 0 {
		return errors.New("stats_interval must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Server holds the HTTP server state and dependencies.
type Server struct {
	status      StatusSource
	hub         *Hub
	corsOrigin  string
	version     string
	rateLimiter *RateLimiter
	cfg         Config
	logger      *slog.Logger
}

// NewServer creates a status server for status. The returned Hub should be
// registered as an orchestrator observer.
func NewServer(cfg Config, status StatusSource, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		status:     status,
		hub:        NewHub(logger),
		corsOrigin: cfg.CORSOrigin,
		version:    version,
		cfg:        cfg,
		logger:     logger,
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerHour)
	}
	return s
}

// Hub returns the websocket broadcaster.
func (s *Server) Hub() *Hub { return s.hub }

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/stats", s.corsMiddleware(s.rateLimitMiddleware(s.statsHandler)))
	mux.HandleFunc("/items", s.corsMiddleware(s.rateLimitMiddleware(s.itemsHandler)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.websocketHandler)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	httpServer := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx, s.cfg.StatsInterval, s.status)
	if s.rateLimiter != nil {
		go s.rateLimiter.RunCleanup(hubCtx, rateLimitCleanupInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info("Status server stopped")
	return nil
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// StatsResponse is returned by /stats.
type StatsResponse struct {
	Stats  orchestrator.StatsSnapshot `json:"stats"`
	Active int                        `json:"active"`
	Live   int                        `json:"live"`
	Time   string                     `json:"time"`
}

// ItemsResponse is returned by /items.
type ItemsResponse struct {
	Items []orchestrator.WorkItem `json:"items"`
	Count int                     `json:"count"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
