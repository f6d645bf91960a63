// Command ingest launches the HTTP event ingest service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	dbmigrations "github.com/souuzaa/performance-api/db/migrations"
	"github.com/souuzaa/performance-api/internal/infra/config"
	"github.com/souuzaa/performance-api/internal/infra/persistence/migrations"
	"github.com/souuzaa/performance-api/internal/infra/persistence/postgres"
	httpserver "github.com/souuzaa/performance-api/internal/infra/server/http"
	"github.com/souuzaa/performance-api/internal/infra/telemetry"
	"github.com/souuzaa/performance-api/internal/ingest"
	"github.com/souuzaa/performance-api/internal/observability"
)

const (
	defaultConfigPath          = "config/app.yaml"
	ingestLoggerPrefix         = "ingest "
	dbPoolName                 = "events"
	shutdownTimeout            = 30 * time.Second
	apiServerShutdownTimeout   = 5 * time.Second
	lifecycleShutdownTimeout   = 10 * time.Second
	schedulerShutdownTimeout   = 5 * time.Second
	databaseShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout   = 5 * time.Second
	defaultDrainTimeout        = 20 * time.Second
	drainTimeoutShutdownMargin = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newIngestLogger()

	if err := config.LoadDotEnv(); err != nil {
		logger.Fatalf("load .env: %v", err)
	}

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, batch=%d, queue=%d, deadQueue=%d",
		appCfg.Environment, appCfg.Ingest.BatchSize, appCfg.Ingest.MaxQueueSize, appCfg.Ingest.MaxDeadQueueSize)

	structured, err := observability.NewZeroLogger(string(appCfg.Environment), appCfg.Logging.Level)
	if err != nil {
		logger.Fatalf("initialise logger: %v", err)
	}
	observability.SetLogger(structured)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := initDatabase(ctx, logger, structured, appCfg.Database)
	if err != nil {
		logger.Fatalf("initialise database: %v", err)
	}

	core, err := ingest.NewCore(appCfg.Ingest.CoreConfig(), postgres.NewEventStore(pool), ingest.WithLogger(structured))
	if err != nil {
		logger.Fatalf("initialise ingest core: %v", err)
	}

	scheduler := ingest.NewScheduler(core)
	scheduler.Start(ctx)
	logger.Printf("flush scheduler started: every=%s, deadEvery=%s",
		appCfg.Ingest.FlushInterval, appCfg.Ingest.DeadFlushInterval)

	var lifecycle conc.WaitGroup

	apiServer := buildAPIServer(appCfg.APIServer, core, structured)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("ingest API listening on %s%s", apiServer.Addr, appCfg.APIServer.BasePath)

	logger.Print("ingest started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       apiServer,
		mainCancel:   cancel,
		lifecycle:    &lifecycle,
		scheduler:    scheduler,
		core:         core,
		drainTimeout: drainTimeout(appCfg.Ingest.ShutdownTimeout),
		pool:         pool,
		telemetry:    telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newIngestLogger() *log.Logger {
	return log.New(os.Stdout, ingestLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := cfg.ProviderConfig(env)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func initDatabase(ctx context.Context, logger *log.Logger, structured observability.Logger, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pool, attempts, err := postgres.Connect(ctx, cfg.PoolConfig(),
		postgres.WithConnectAttempts(cfg.ConnectAttempts),
		postgres.WithConnectLogger(structured),
	)
	postgres.RecordConnectAttempts(ctx, attempts, err)
	if err != nil {
		return nil, err
	}
	logger.Printf("database connected after %d attempt(s)", attempts)

	if cfg.MigrationsEnabled() {
		if err := migrations.ApplyEmbedded(ctx, cfg.DSN, dbmigrations.Files, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	} else {
		logger.Print("migrations disabled; assuming schema is current")
	}

	if err := postgres.ObservePoolMetrics(pool, dbPoolName); err != nil {
		logger.Printf("pool metrics unavailable: %v", err)
	}
	return pool, nil
}

func buildAPIServer(cfg config.APIServerConfig, core *ingest.Core, structured observability.Logger) *http.Server {
	handler := httpserver.NewHandler(core, httpserver.Options{
		BasePath:     cfg.BasePath,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Gatherer:     nil,
		Logger:       structured,
	})

	return &http.Server{
		Addr:                         cfg.Addr,
		Handler:                      handler,
		DisableGeneralOptionsHandler: false,
		TLSConfig:                    nil,
		ReadTimeout:                  0,
		WriteTimeout:                 0,
		IdleTimeout:                  0,
		MaxHeaderBytes:               0,
		TLSNextProto:                 nil,
		ConnState:                    nil,
		ErrorLog:                     nil,
		BaseContext:                  nil,
		ConnContext:                  nil,
		HTTP2:                        nil,
		Protocols:                    nil,
		ReadHeaderTimeout:            cfg.ReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("ingest server: %v", err)
		}
	})
}

// drainTimeout keeps the final flush inside the overall shutdown budget.
func drainTimeout(configured time.Duration) time.Duration {
	limit := shutdownTimeout - apiServerShutdownTimeout - drainTimeoutShutdownMargin
	if configured <= 0 {
		return defaultDrainTimeout
	}
	if configured > limit {
		return limit
	}
	return configured
}

type gracefulShutdownConfig struct {
	server       *http.Server
	mainCancel   context.CancelFunc
	lifecycle    *conc.WaitGroup
	scheduler    *ingest.Scheduler
	core         *ingest.Core
	drainTimeout time.Duration
	pool         *pgxpool.Pool
	telemetry    *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping ingest server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitWithContext(stepCtx, cfg.lifecycle.Wait)
		})
	}

	if cfg.scheduler != nil {
		shutdownStep("stopping flush scheduler", schedulerShutdownTimeout, func(stepCtx context.Context) error {
			return waitWithContext(stepCtx, cfg.scheduler.Stop)
		})
	}

	if cfg.core != nil {
		shutdownStep("draining queues", cfg.drainTimeout, func(stepCtx context.Context) error {
			err := cfg.core.Drain(stepCtx)
			logger.Printf("shutdown: queues remaining: requests=%d, dead_letters=%d",
				cfg.core.QueueDepth(), cfg.core.DeadQueueDepth())
			return err
		})
	}

	if cfg.pool != nil {
		shutdownStep("closing database pool", databaseShutdownTimeout, func(stepCtx context.Context) error {
			return waitWithContext(stepCtx, cfg.pool.Close)
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func waitWithContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for shutdown: %w", ctx.Err())
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return filepath.Clean(defaultConfigPath)
}
