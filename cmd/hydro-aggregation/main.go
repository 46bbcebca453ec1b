package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/hydro-aggregation/internal/api/http"
	"github.com/i474232898/hydro-aggregation/internal/config"
	"github.com/i474232898/hydro-aggregation/internal/hydro"
	"github.com/i474232898/hydro-aggregation/internal/hydro/decode"
	"github.com/i474232898/hydro-aggregation/internal/hydro/mapping"
	"github.com/i474232898/hydro-aggregation/internal/hydro/providers"
	"github.com/i474232898/hydro-aggregation/internal/hydro/region"
	"github.com/i474232898/hydro-aggregation/internal/hydro/transport"
	"github.com/i474232898/hydro-aggregation/internal/metrics"
	"github.com/i474232898/hydro-aggregation/internal/scheduler"
	"github.com/i474232898/hydro-aggregation/internal/store"
)

func newLogger(level string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if level == "debug" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sugar, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()

	// Provider registry: builtin providers plus the optional descriptor file.
	registry, err := providers.NewDefaultRegistry(cfg.HTTPTimeout)
	if err != nil {
		sugar.Fatalw("failed to build provider registry", "error", err)
	}
	if cfg.ProvidersFile != "" {
		n, err := registry.LoadFile(cfg.ProvidersFile)
		if err != nil {
			sugar.Fatalw("failed to load providers file", "path", cfg.ProvidersFile, "error", err)
		}
		sugar.Infow("loaded extra providers", "path", cfg.ProvidersFile, "count", n)
	}

	backend, err := store.Open(cfg.StoreBackend, cfg.DBPath, sugar)
	if err != nil {
		sugar.Fatalw("failed to open store", "backend", cfg.StoreBackend, "error", err)
	}
	defer backend.Close()

	m := metrics.New()

	// Shared HTTP client for outbound provider calls. Per-attempt timeouts
	// come from the provider descriptors.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	client := transport.NewClient(httpClient, transport.Config{
		Retry: transport.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Base:     cfg.RetryBase,
			MaxDelay: 5 * time.Second,
		},
		Memo: transport.MemoConfig{
			TTL:        cfg.MemoTTL,
			Capacities: transport.DefaultMemoConfig().Capacities,
		},
		RateLimit: cfg.RateLimitRPS,
	}, m, sugar)

	service := hydro.NewService(hydro.Dependencies{
		Registry: registry,
		Fetcher:  client,
		Decoder:  decode.Decoder{},
		Mapper:   mapping.NewMapper(),
		Regions:  region.NewResolver(cfg.FuzzyThreshold),
		Store:    backend,
	}, cfg.CacheTTL, sugar)

	// Scheduler that prefetches configured stations and purges stale entries.
	sched := scheduler.New(scheduler.Options{
		Targets:       cfg.Prefetch,
		FetchInterval: cfg.FetchInterval,
		PurgeInterval: cfg.PurgeInterval,
	}, service, m, sugar)
	if err := sched.Start(); err != nil {
		sugar.Fatalw("failed to start scheduler", "error", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "hydro-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler(sugar),
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if err := backend.Ping(c.UserContext()); err != nil {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":    status,
			"service":   "hydro-aggregation",
			"providers": len(registry.List()),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	httpapi.RegisterRoutes(app, service, m)

	go func() {
		sugar.Infow("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			sugar.Warnw("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		sugar.Errorw("error during shutdown", "error", err)
	}
}
