package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingestion metrics
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_events_ingested_total",
			Help: "Total telemetry events received, by kind and result",
		},
		[]string{"kind", "result"},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_sessions_closed_total",
			Help: "Total usage sessions closed and committed to day counters",
		},
	)

	UsageSecondsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_usage_seconds_recorded_total",
			Help: "Total usage seconds committed to day counters",
		},
		[]string{"device"},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screentime_open_sessions",
			Help: "Number of devices with an open usage session",
		},
	)

	// Storage metrics
	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_storage_errors_total",
			Help: "Storage operations that failed after retries",
		},
		[]string{"op"},
	)

	// Query metrics
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screentime_query_duration_seconds",
			Help:    "Aggregation query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"query"},
	)

	StatsCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_stats_cache_hits_total",
			Help: "Daily stats cache hits",
		},
	)

	StatsCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_stats_cache_misses_total",
			Help: "Daily stats cache misses",
		},
	)

	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_http_requests_total",
			Help: "Total API requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// Retention metrics
	CountersDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_day_counters_deleted_total",
			Help: "Day counters removed by the retention sweep",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsIngested,
		SessionsClosed,
		UsageSecondsRecorded,
		OpenSessions,
		StorageErrors,
		QueryDuration,
		StatsCacheHits,
		StatsCacheMisses,
		RequestsTotal,
		CountersDeleted,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
