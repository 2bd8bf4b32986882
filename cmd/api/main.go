package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnly/platform/internal/app"
	"github.com/learnly/platform/internal/auth"
	"github.com/learnly/platform/internal/guard"
	"github.com/learnly/platform/internal/infra"
	"github.com/learnly/platform/internal/notify"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// Parse JWT expiry durations
	studentExpiry, err := time.ParseDuration(cfg.JWTStudentExpiry)
	if err != nil {
		return fmt.Errorf("parse student JWT expiry: %w", err)
	}
	adminExpiry, err := time.ParseDuration(cfg.JWTAdminExpiry)
	if err != nil {
		return fmt.Errorf("parse admin JWT expiry: %w", err)
	}
	affiliateExpiry, err := time.ParseDuration(cfg.JWTAffiliateExpiry)
	if err != nil {
		return fmt.Errorf("parse affiliate JWT expiry: %w", err)
	}
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, studentExpiry, adminExpiry, affiliateExpiry)

	producer := infra.NewKafkaProducer(cfg, logger)
	defer producer.Close()

	dispatcher := notify.NewDispatcher(producer, cfg.KafkaNotifyTopic, cfg.NotifyQueueSize, cfg.NotifyWorkers, logger)
	limiter := guard.NewRateLimiter(cfg.CheckoutRateLimit, cfg.CheckoutRateWindow)

	r := app.NewRouter(app.RouterDeps{
		Pool:     pool,
		Config:   cfg,
		JWTMgr:   jwtMgr,
		Logger:   logger,
		Notifier: dispatcher,
		Limiter:  limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives gctx so confirmations finishing during
	// Shutdown can still enqueue. It is stopped once Shutdown returns.
	dispatchCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatcher()

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})

	g.Go(func() error {
		sweepLimiter(gctx, limiter, cfg.CheckoutRateWindow, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		defer stopDispatcher()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if n := dispatcher.Dropped(); n > 0 {
		logger.Warn("notifications dropped during run", "count", n)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// sweepLimiter evicts idle rate-limit buckets once per window.
func sweepLimiter(ctx context.Context, limiter *guard.RateLimiter, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				logger.Debug("rate limiter swept", "buckets", n)
			}
		}
	}
}
