// Command relayhook runs the inbound-email fan-out pipeline: it ingests raw
// RFC-5322 messages arriving via push notification or object-store event,
// normalizes and persists them, and fans them out to registered webhook
// subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/relayhook/relayhook/internal/catchup"
	"github.com/relayhook/relayhook/internal/config"
	"github.com/relayhook/relayhook/internal/confirm"
	"github.com/relayhook/relayhook/internal/engine"
	"github.com/relayhook/relayhook/internal/fanout"
	"github.com/relayhook/relayhook/internal/handler"
	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/ingress"
	"github.com/relayhook/relayhook/internal/objectstore"
	"github.com/relayhook/relayhook/internal/observability"
	rediscache "github.com/relayhook/relayhook/internal/repository/redis"
	"github.com/relayhook/relayhook/internal/server"
	"github.com/relayhook/relayhook/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		serveCmd.StringVar(&configPath, "config", "config/relayhook.yaml", "config file path")
		serveCmd.Parse(os.Args[2:])
		runServe(configPath)
	case "migrate":
		migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
		migrateCmd.StringVar(&configPath, "config", "config/relayhook.yaml", "config file path")
		up := migrateCmd.Bool("up", false, "run migrations up")
		down := migrateCmd.Bool("down", false, "roll back last migration")
		migrateCmd.Parse(os.Args[2:])
		runMigrate(configPath, *up, *down)
	case "version":
		fmt.Printf("relayhook %s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("relayhook - inbound-email fan-out pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  relayhook serve   [--config path]             Start the HTTP server and background schedulers")
	fmt.Println("  relayhook migrate [--config path] --up/--down Run database migrations")
	fmt.Println("  relayhook version                             Print version")
}

func runServe(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting relayhook", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			logger.Error("initializing tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Connect to PostgreSQL.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolCfg.ConnConfig.Tracer = observability.NewPgxTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("pinging database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Run auto-migrations if enabled.
	if cfg.Database.AutoMigrate {
		logger.Info("running auto-migrations")
		m, err := migrate.New("file://db/migrations", cfg.Database.URL())
		if err != nil {
			logger.Error("initializing migrations", "error", err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			logger.Error("running migrations", "error", err)
			os.Exit(1)
		}
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Error("closing migration handles", "source_error", srcErr, "db_error", dbErr)
		}
		logger.Info("migrations complete")
	}

	// Connect to Redis (ingestion dedup lock, IP rate limiting).
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis")
	cache := rediscache.NewCache(rdb)

	// Connect to the object store holding raw MIME blobs.
	objects, err := objectstore.New(ctx, objectstore.Config{
		Bucket:   cfg.ObjectStore.Bucket,
		Region:   cfg.ObjectStore.Region,
		Prefix:   cfg.ObjectStore.ObjectPrefix,
		Endpoint: cfg.ObjectStore.Endpoint,
	})
	if err != nil {
		logger.Error("initializing object store", "error", err)
		os.Exit(1)
	}

	// Wire the pipeline, leaves first: store -> fanout -> ingest -> catchup/confirm/ingress.
	st := store.New(pool)

	breaker := engine.NewCircuitBreaker(5, 0)
	alerter := &fanout.LoggingAlerter{Logger: logger, To: cfg.Webhook.TimeoutAlertTo}
	fanoutEngine := fanout.New(st, breaker, alerter, logger, metrics)

	coordinator := ingest.New(st, objects, cache, fanoutEngine, logger, metrics,
		cfg.ObjectStore.Bucket, cfg.ObjectStore.ObjectPrefix)

	catchupSched := catchup.New(objects, st, coordinator, logger, metrics, catchup.Config{
		Bucket:        cfg.ObjectStore.Bucket,
		Prefix:        cfg.ObjectStore.ObjectPrefix,
		MaxKeysPerRun: cfg.Catchup.MaxKeysPerRun,
		OnlyLastHours: cfg.Catchup.OnlyLastHours,
		Cron:          cfg.Catchup.Cron,
		Disabled:      cfg.Catchup.Disabled,
	})

	confirmer := confirm.New(st)
	confirmHandler := confirm.NewHandler(confirmer)

	ingressHandler := ingress.New(coordinator, st, objects, logger)

	healthHandler := handler.NewHealthHandler(pool, handler.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))

	httpServer := server.New(server.Config{
		Addr:            cfg.Server.HTTPAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		AdminToken:      cfg.Auth.AdminToken,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitRPS:    20,
		RateLimitWindow: time.Second,
		Redis:           rdb,
		Registry:        registry,
		Metrics:         metrics,
		Ingress:         ingressHandler,
		Confirmation:    confirmHandler,
		Health:          healthHandler,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	// HTTP server: the ingress adapter and admin/confirmation surface.
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Catch-up scheduler: periodic reconciliation against the object store.
	g.Go(func() error {
		if err := catchupSched.Run(gctx); err != nil {
			return fmt.Errorf("catchup scheduler: %w", err)
		}
		return nil
	})

	// Auto-resume sweep: hourly retry of suspended subscriptions.
	g.Go(func() error {
		if err := fanoutEngine.RunAutoResume(gctx, cfg.Webhook.AutoResumeAfter); err != nil {
			return fmt.Errorf("auto-resume sweep: %w", err)
		}
		return nil
	})

	// Graceful shutdown goroutine.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		healthHandler.SetReady(false)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("relayhook stopped")
}

func runMigrate(configPath string, up, down bool) {
	if !up && !down {
		fmt.Fprintln(os.Stderr, "Error: specify --up or --down")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.New("file://db/migrations", cfg.Database.URL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing migrations: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if up {
		fmt.Println("Running migrations up...")
		if err := m.Up(); err != nil {
			if err == migrate.ErrNoChange {
				fmt.Println("No new migrations to apply.")
				return
			}
			fmt.Fprintf(os.Stderr, "Error running migrations up: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully.")
	}

	if down {
		fmt.Println("Rolling back last migration...")
		if err := m.Steps(-1); err != nil {
			fmt.Fprintf(os.Stderr, "Error rolling back migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migration rolled back successfully.")
	}
}

// setupLogger creates a slog.Logger based on the logging config, wrapped in
// the tracing-aware handler so log records pick up the active span's
// trace/span IDs.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(observability.NewTracingHandler(handler))
}
