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
)

func newServeCmd() *cobra.Command {
	var useQueue bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the analysis pipeline",
		Long: `serve exposes the gallery API. By default analysis tasks run on an
in-process worker pool; with --queue they are published to Redis and executed
by the worker fleet instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), useQueue)
		},
	}
	cmd.Flags().BoolVar(&useQueue, "queue", false, "Publish analysis tasks to Redis instead of running them in-process")
	return cmd
}

func runServe(ctx context.Context, useQueue bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.Init(cfg.LogLevel)

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

	var trigger api.Trigger
	if useQueue {
		if cfg.RedisAddr == "" {
			return fmt.Errorf("queue mode requires GALLERYMIND_REDIS_ADDR")
		}
		client := asynq.NewClient(queue.RedisOpt(cfg))
		defer client.Close()
		trigger = queue.NewScheduler(store, client, hub, log)
		log.Info("scheduling analysis through redis", "addr", cfg.RedisAddr)
	} else {
		runner := pipeline.NewRunner(store, openCache(cfg, log), newFetcher(cfg, log), newAnalyzer(cfg, log), hub, log)
		reg := pipeline.NewRegistry()
		orch := pipeline.NewOrchestrator(store, runner, reg, cfg.WorkerCount, hub, log)
		orch.Start(ctx)
		sweeper := pipeline.NewSweeper(store, reg.Live, cfg.SweepInterval, cfg.StaleAfter, hub, log)
		go sweeper.Run(ctx)
		trigger = orch
		log.Info("running analysis in-process", "workers", cfg.WorkerCount)
	}

	srv := api.New(cfg, store, images, trigger, hub, log)
	return srv.Run(ctx)
}
