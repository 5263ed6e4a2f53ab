// Package api exposes the telemetry engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr   string
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	handler  *Handler
	router   *mux.Router
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, handler *Handler, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	s := &Server{
		config:  cfg,
		handler: handler,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(APIKeyMiddleware(s.config.APIKey))

	// Ingestion
	v1.HandleFunc("/battery", s.handler.RecordBattery).Methods("POST")
	v1.HandleFunc("/usage", s.handler.RecordUsage).Methods("POST")

	// Queries
	v1.HandleFunc("/devices", s.handler.ListDevices).Methods("GET")
	v1.HandleFunc("/devices/{device}/battery", s.handler.LatestBattery).Methods("GET")
	v1.HandleFunc("/devices/{device}/switches", s.handler.RecentSwitches).Methods("GET")
	v1.HandleFunc("/devices/{device}/stats/daily", s.handler.DailyStats).Methods("GET")
	v1.HandleFunc("/devices/{device}/stats/weekly", s.handler.WeeklyStats).Methods("GET")
	v1.HandleFunc("/devices/{device}/stats/monthly", s.handler.MonthlyStats).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "No such endpoint")
	})
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Bool("auth", s.config.APIKey != "").
		Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
