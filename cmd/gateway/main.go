package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agumabanks/baraka-gateway/internal/auth"
	"github.com/agumabanks/baraka-gateway/internal/breaker"
	"github.com/agumabanks/baraka-gateway/internal/config"
	"github.com/agumabanks/baraka-gateway/internal/pipeline"
	"github.com/agumabanks/baraka-gateway/internal/ratelimit"
	"github.com/agumabanks/baraka-gateway/internal/router"
	"github.com/agumabanks/baraka-gateway/internal/server"
	"github.com/agumabanks/baraka-gateway/internal/storage"
	"github.com/agumabanks/baraka-gateway/internal/telemetry"
	"github.com/agumabanks/baraka-gateway/internal/transform"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("baraka-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("BARAKA_CONFIG")
	if configPath == "" {
		configPath = "gateway.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Durable access log backing the bulk-operation guard. The memory
	// store keeps the gateway usable when no database is configured.
	var access storage.AccessStore
	if cfg.Storage.DSN != "" {
		store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("Failed to open access store: %v", err)
		}
		access = store
	} else {
		access = storage.NewMemory()
	}
	defer func() {
		if err := access.Close(); err != nil {
			logger.Error("failed to close access store", slog.String("error", err.Error()))
		}
	}()

	windows, err := ratelimit.NewLRUStore(cfg.RateLimit.WindowCacheSize)
	if err != nil {
		log.Fatalf("Failed to build rate-limit store: %v", err)
	}
	limiter := ratelimit.New(windows, access, cfg.RateLimit, logger)

	registry := breaker.NewRegistry(cfg.Breaker)
	sinks := telemetry.NewSinks(logger)

	handler := pipeline.NewHandler(pipeline.Options{
		Validator:     auth.NewBasicValidator(cfg.Server.MaxBodySize),
		Authenticator: auth.NewAPIKeyAuthenticator(cfg.Auth.Keys),
		Limiter:       limiter,
		Transformer:   transform.New(),
		Router:        router.New(cfg, registry),
		Metrics:       sinks,
		Logs:          sinks,
		Access:        access,
		Logger:        logger,
		DefaultTier:   cfg.RateLimit.DefaultTier,
		MaxBodySize:   cfg.Server.MaxBodySize,
	})

	srv := server.New(cfg.Server.Port, logger)
	srv.MountPipeline(handler)
	srv.MountOps(registry, cfg.Services)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bound the durable access log: the bulk guard only ever queries the
	// trailing hour, so anything past the retention window is dead weight.
	if store, ok := access.(*storage.SQLStore); ok {
		go func() {
			ticker := time.NewTicker(cfg.Storage.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := store.Prune(ctx, time.Now().Add(-cfg.Storage.Retention))
					if err != nil {
						logger.Error("access log prune failed", slog.String("error", err.Error()))
						continue
					}
					if n > 0 {
						logger.Info("access log pruned", slog.Int64("rows", n))
					}
				}
			}
		}()
	}

	// Rate-limit tiers and classes follow the config file without a
	// restart; everything else needs a redeploy.
	go func() {
		if err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			limiter.Reconfigure(next.RateLimit)
		}); err != nil {
			logger.Error("config watcher stopped", slog.String("error", err.Error()))
		}
	}()

	httpServer := srv.HTTPServer()
	go func() {
		logger.Info("gateway started",
			slog.Int("port", cfg.Server.Port),
			slog.Int("services", len(cfg.Services)))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}
