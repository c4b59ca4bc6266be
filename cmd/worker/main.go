package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/aeat111/internal/app"
	"github.com/odyssey-erp/aeat111/internal/platform/cache"
	"github.com/odyssey-erp/aeat111/internal/platform/db"
	"github.com/odyssey-erp/aeat111/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}

	services := app.NewServices(pool, cfg, logger, nil)

	reportJob := jobs.NewReportJob(services.Reports, logger, nil)
	recalcJob := jobs.NewRecalculateDraftsJob(services.Reports, logger, nil)
	cleanupJob := &jobs.IdempotencyCleanupJob{Store: services.Idempotency, Logger: logger}

	handlers := append(jobs.ReportHandlers(reportJob),
		jobs.TaskHandler{Type: jobs.TaskRecalculateDrafts, Handler: recalcJob.Handle},
		jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
	)

	cleanupTask := jobs.NewIdempotencyCleanupTask()
	cron := []jobs.CronRegistration{
		{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if cfg.CronEnabled() {
		recalcTask, err := jobs.NewRecalculateDraftsTask(0)
		if err != nil {
			logger.Error("build recalculate task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.CalculateCron, Task: recalcTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.AsynqOpts(),
		Logger:      logger,
		Concurrency: cfg.WorkerQueues,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerQueues), slog.Bool("recalculate_cron", cfg.CronEnabled()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
