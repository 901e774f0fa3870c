package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"gallerymind/internal/analyzer"
	"gallerymind/internal/cache"
	"gallerymind/internal/config"
	"gallerymind/internal/database"
	"gallerymind/internal/fetcher"
	"gallerymind/internal/repository"
	"gallerymind/internal/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gallerymind: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallerymind",
		Short: "AI image gallery backend",
		Long: `gallerymind serves the image gallery API, runs the asynchronous analysis
pipeline either in-process or through a Redis-backed worker fleet, and ships a
client-side watcher for following analysis progress.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newAllCmd(),
		newWatchCmd(),
	)
	return cmd
}

// openStore selects Postgres when a DSN is configured and falls back to the
// in-memory store otherwise. The returned cleanup closes the pool.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, records are kept in memory")
		return repository.NewMemoryStore(), func() {}, nil
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repository.NewPostgresStore(pool), pool.Close, nil
}

// openCache shares memoized analyses through Redis when available so the API
// and worker processes see each other's results.
func openCache(cfg *config.Config, log *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		log.Info("analysis cache is in-memory")
		return cache.NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return cache.NewRedis(client, cfg.CacheTTL)
}

func newAnalyzer(cfg *config.Config, log *slog.Logger) *analyzer.Analyzer {
	manager := vision.NewManager(cfg.ModelURL, cfg.ModelTimeout, log)
	return analyzer.New(manager, cfg.AnalyzeBudget, log)
}

func newFetcher(cfg *config.Config, log *slog.Logger) *fetcher.Fetcher {
	return fetcher.New(cfg.FetchRetries, cfg.FetchTimeout, cfg.MaxImageBytes, log)
}
