package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"gallerymind/internal/config"
	"gallerymind/internal/database"
	"gallerymind/internal/logging"
	"gallerymind/internal/pipeline"
	"gallerymind/internal/queue"
	"gallerymind/internal/repository"
	"gallerymind/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis tasks from the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.Init(cfg.LogLevel)
	if cfg.RedisAddr == "" {
		return fmt.Errorf("worker requires GALLERYMIND_REDIS_ADDR")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("worker requires GALLERYMIND_DATABASE_URL")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	store := repository.NewPostgresStore(pool)

	runner := pipeline.NewRunner(store, openCache(cfg, log), newFetcher(cfg, log), newAnalyzer(cfg, log), nil, log)

	// Tasks interrupted by a worker crash surface as stuck processing rows;
	// the sweep finalizes them with fallback content.
	sweeper := pipeline.NewSweeper(store, nil, cfg.SweepInterval, cfg.StaleAfter, nil, log)
	go sweeper.Run(ctx)

	srv := asynq.NewServer(queue.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerCount,
	})
	proc := worker.NewProcessor(runner, log)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	log.Info("worker consuming analysis tasks", "redis", cfg.RedisAddr, "concurrency", cfg.WorkerCount)
	if err := srv.Run(proc.Handler()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
