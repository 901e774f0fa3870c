package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"gallerymind/internal/api"
	"gallerymind/internal/config"
	"gallerymind/internal/events"
	"gallerymind/internal/imagestore"
	"gallerymind/internal/logging"
	"gallerymind/internal/pipeline"
	"gallerymind/internal/queue"
	"gallerymind/internal/worker"
)

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the API and the queue worker in one process",
		Long: `all wires the API and the analysis worker into a single process sharing one
store and cache. Tasks still travel through Redis, so additional workers can
join the same queue at any time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll(cmd.Context())
		},
	}
}

func runAll(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.Init(cfg.LogLevel)
	if cfg.RedisAddr == "" {
		return fmt.Errorf("all mode requires GALLERYMIND_REDIS_ADDR")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := events.NewHub(log)
	go hub.Run(ctx)

	var images *imagestore.Storage
	if cfg.S3Endpoint != "" {
		images, err = imagestore.New(cfg)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		if err := images.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	} else {
		log.Info("object storage not configured, uploads disabled")
	}

	client := asynq.NewClient(queue.RedisOpt(cfg))
	defer client.Close()
	trigger := queue.NewScheduler(store, client, hub, log)

	runner := pipeline.NewRunner(store, openCache(cfg, log), newFetcher(cfg, log), newAnalyzer(cfg, log), hub, log)
	proc := worker.NewProcessor(runner, log)
	asynqSrv := asynq.NewServer(queue.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerCount,
	})
	go func() {
		<-ctx.Done()
		asynqSrv.Shutdown()
	}()

	sweeper := pipeline.NewSweeper(store, nil, cfg.SweepInterval, cfg.StaleAfter, hub, log)
	go sweeper.Run(ctx)

	srv := api.New(cfg, store, images, trigger, hub, log)
	log.Info("embedded worker consuming analysis tasks", "concurrency", cfg.WorkerCount)

	runErr := make(chan error, 2)
	go func() { runErr <- srv.Run(ctx) }()
	go func() {
		if err := asynqSrv.Run(proc.Handler()); err != nil {
			runErr <- fmt.Errorf("worker stopped: %w", err)
			return
		}
		runErr <- nil
	}()

	// Whichever side stops first tears the other down.
	err = <-runErr
	cancel()
	if second := <-runErr; err == nil {
		err = second
	}
	return err
}
