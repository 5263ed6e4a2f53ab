package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/stats"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/systemd"
	"github.com/goodtune/screentime/internal/usage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start screentime server",
	Long:  `Start the screentime server with the ingestion/query API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting screentime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	zone := localtime.MustZone(cfg.Usage.UTCOffsetHours)

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Str("key_prefix", cfg.Storage.Redis.KeyPrefix).
		Msg("Storage initialized")

	clk := clock.RealClock{}

	// Initialize Session Recorder
	recorder := usage.NewRecorder(
		store.Usage(),
		store.Devices(),
		usage.Config{
			Zone:                zone,
			RecentEventCapacity: cfg.Usage.RecentEventCapacity,
			WriteRetries:        cfg.Usage.WriteRetries,
			Clock:               clk,
		},
		logger,
	)

	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = recorder.Restore(restoreCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to restore open sessions: %w", err)
	}

	batteryTracker := usage.NewBatteryTracker(store.Battery(), clk, cfg.Usage.WriteRetries, logger)
	directory := usage.NewDirectory(store.Devices(), recorder)

	logger.Info().
		Int("utc_offset_hours", zone.OffsetHours()).
		Msg("Session Recorder initialized")

	// Initialize Query Engine
	engine := stats.NewEngine(
		store.Usage(),
		recorder,
		directory,
		stats.Config{
			Zone:             zone,
			Clock:            clk,
			CacheSize:        cfg.Query.CacheSize,
			CacheTTL:         config.ParseDuration(cfg.Query.CacheTTL, stats.DefaultCacheTTL),
			FleetConcurrency: cfg.Query.FleetConcurrency,
		},
		logger,
	)
	recorder.OnCommit(engine.Invalidate)

	logger.Info().Int("cache_size", cfg.Query.CacheSize).Msg("Query Engine initialized")

	// Initialize Retention Scheduler
	retention, err := usage.NewRetentionScheduler(
		store.Usage(),
		zone,
		clk,
		cfg.Usage.CleanupTime,
		cfg.Usage.RetentionDays,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	retention.OnSweep(engine.Expire)

	retention.Start()

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(
		api.Config{
			ListenAddr:   apiAddr,
			APIKey:       cfg.Server.APIKey,
			ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 15*time.Second),
			WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
		},
		api.NewHandler(recorder, batteryTracker, engine, zone, clk, logger),
		logger,
	)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Log startup complete
	logger.Info().Msg("screentime startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdogStop := make(chan struct{})
	if enabled, err := systemd.StartWatchdog(watchdogStop); err != nil {
		logger.Warn().Err(err).Msg("Failed to start systemd watchdog")
	} else if enabled {
		logger.Debug().Msg("Systemd watchdog enabled")
	}

	// Wait for signals (shutdown or cleanup)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, running counter cleanup...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := retention.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to clean up day counters")
			}
			cancel()
			// Continue running
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			// Break out of loop to shutdown
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(watchdogStop)

	// Stop servers
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	retention.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("screentime stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
