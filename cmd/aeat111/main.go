package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	aeat111http "github.com/odyssey-erp/aeat111/internal/aeat111/http"
	"github.com/odyssey-erp/aeat111/internal/app"
	"github.com/odyssey-erp/aeat111/internal/observability"
	"github.com/odyssey-erp/aeat111/internal/platform/cache"
	"github.com/odyssey-erp/aeat111/internal/platform/db"
	"github.com/odyssey-erp/aeat111/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var (
		queue     aeat111http.Enqueuer
		inspector jobs.QueueInspector
	)
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Warn("redis unavailable, batch actions run inline", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		client := jobs.NewClient(redisOpts.AsynqOpts())
		defer client.Close()
		queue = client

		asynqInspector := asynq.NewInspector(redisOpts.AsynqOpts())
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		inspector = asynqInspector
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(pool, cfg, logger, metrics.Registerer())

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AEAT111Handler: aeat111http.NewHandler(logger, services.Reports, services.Mappings, queue, services.Idempotency),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
