package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/api"
	"github.com/perfectstorm/coordinator/internal/eventlog"
	"github.com/perfectstorm/coordinator/internal/jobengine"
	"github.com/perfectstorm/coordinator/internal/liveness"
	"github.com/perfectstorm/coordinator/internal/metrics"
	"github.com/perfectstorm/coordinator/internal/model"
	"github.com/perfectstorm/coordinator/internal/repo"
	"github.com/perfectstorm/coordinator/internal/store"
	"github.com/perfectstorm/coordinator/internal/subscription"
	"github.com/perfectstorm/coordinator/internal/websocket"
)

var (
	version = "dev"
	commit = "none"
	date = "unknown"
)

type config struct {
	httpAddr string
	storePath string
	debug bool
	logLevel string
	eventCap int64
	eventCapBytes int64
	heartbeatTimeout time.Duration
	sweepInterval time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use: "coordinator",
		Short: "Perfect Storm coordinator — control-plane entity store and dispatcher",
		Long: `The coordinator exposes a REST API over a capped, append-only event
log and a small set of linked entities (agents, resources, groups,
applications, procedures, jobs, subscriptions), sweeps dead agents, and
dispatches subscriptions on matching events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("STORM_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.storePath, "store-path", envOrDefault("STORM_STORE_PATH", "./coordinator.db"), "buntdb file path, or :memory: for an ephemeral store")
	root.PersistentFlags().BoolVar(&cfg.debug, "debug", envOrDefault("STORM_DEBUG", "false") == "true", "enable debug mode (verbose logging)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("STORM_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().Int64Var(&cfg.eventCap, "event-cap", envOrDefaultInt64("STORM_EVENT_CAP", 10000), "maximum number of events retained in the event log")
	root.PersistentFlags().Int64Var(&cfg.eventCapBytes, "event-cap-bytes-per-event", envOrDefaultInt64("STORM_EVENT_CAP_BYTES_PER_EVENT", 8192), "per-event byte budget used to compute the event log's total byte cap")
	root.PersistentFlags().DurationVar(&cfg.heartbeatTimeout, "heartbeat-timeout", envOrDefaultDuration("STORM_HEARTBEAT_TIMEOUT", liveness.DefaultTimeout), "agent heartbeat staleness threshold before it's marked offline")
	root.PersistentFlags().DurationVar(&cfg.sweepInterval, "sweep-interval", envOrDefaultDuration("STORM_SWEEP_INTERVAL", 5*time.Second), "liveness sweep and subscription dispatch poll interval")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coordinator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel, cfg.debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting coordinator",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("store_path", cfg.storePath),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Store ---
	db, err := store.Open(cfg.storePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	eventLog := eventlog.New(db, eventlog.Config{
		MaxEvents: cfg.eventCap,
		MaxBytesPerEvent: cfg.eventCapBytes,
	})

	repoStore := repo.New(db, eventLog)

	// --- 2. Domain engines ---
	engine := jobengine.New(repoStore, nil)
	sweeper := liveness.New(repoStore, cfg.heartbeatTimeout, cfg.sweepInterval, logger)
	dispatcher := subscription.New(repoStore, repoStore, repoStore, engine, logger)
	reporter := metrics.NewReporter(
		func() ([]model.Job, error) { return repoStore.ListJobs(nil) },
		func() ([]model.Agent, error) { return repoStore.ListAgents(nil) },
		eventLog,
	)
	prometheus.MustRegister(metrics.All()...)

	// --- 3. Scheduled jobs ---
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if _, err := sweeper.Start(cron); err != nil {
		return fmt.Errorf("failed to schedule liveness sweep: %w", err)
	}
	if _, err := dispatcher.Start(cron, eventLog, cfg.sweepInterval); err != nil {
		return fmt.Errorf("failed to schedule subscription dispatch: %w", err)
	}
	if _, err := reporter.Start(cron, cfg.sweepInterval); err != nil {
		return fmt.Errorf("failed to schedule metrics reporter: %w", err)
	}
	cron.Start()
	defer func() {
		if err := cron.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 4. WebSocket hub + forwarder ---
	hub := websocket.NewHub()
	go hub.Run(ctx)
	go websocket.Forward(ctx, eventLog, hub, logger)

	// --- 5. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Store: repoStore,
		Engine: engine,
		Sweeper: sweeper,
		Events: eventLog,
		Hub: hub,
		Logger: logger,
	})

	// The long-poll events stream clears its own write deadline via
	// http.ResponseController (see internal/api/events.go), and the websocket
	// route's writePump sets a fresh write deadline before every write on the
	// upgraded connection, so neither is cut off by httpSrv.WriteTimeout
	// below, which every other route is bound by.
	httpSrv := &http.Server{
		Addr: cfg.httpAddr,
		Handler: router,
		ReadTimeout: 15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down coordinator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("coordinator stopped")
	return nil
}

func buildLogger(level string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
