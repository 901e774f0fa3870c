// Package queue schedules analysis work through asynq for deployments where
// the worker runs as its own process.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"gallerymind/internal/config"
	"gallerymind/internal/events"
	"gallerymind/internal/model"
	"gallerymind/internal/repository"
)

// Publisher pushes status events to connected clients; may be nil.
type Publisher interface {
	Publish(ev events.StatusEvent)
}

// Scheduler satisfies the trigger contract by enqueueing asynq tasks instead
// of feeding an in-process pool. Terminal writes happen in the worker, so
// only the pending announcement is published here.
type Scheduler struct {
	store  repository.Store
	client *asynq.Client
	pub    Publisher
	log    *slog.Logger
}

// NewScheduler wires a Scheduler.
func NewScheduler(store repository.Store, client *asynq.Client, pub Publisher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: store, client: client, pub: pub, log: log}
}

// Trigger ensures a pending record exists and enqueues its analysis. Records
// already terminal are acknowledged without queueing; records already queued
// are deduplicated by task id.
func (s *Scheduler) Trigger(ctx context.Context, recordID, ownerID, sourceURL string) error {
	rec := &model.AnalysisRecord{ID: recordID, OwnerID: ownerID, SourceURL: sourceURL}
	if err := s.store.CreatePending(ctx, rec); err != nil {
		return fmt.Errorf("create pending record: %w", err)
	}
	current, err := s.store.Get(ctx, recordID)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if current.Status.Terminal() {
		s.log.Debug("trigger for terminal record ignored", "record_id", recordID, "status", current.Status)
		return nil
	}
	if s.pub != nil {
		s.pub.Publish(events.StatusEvent{RecordID: recordID, OwnerID: current.OwnerID, Status: current.Status})
	}
	return EnqueueAnalyze(ctx, s.client, AnalyzePayload{
		RecordID:  recordID,
		OwnerID:   ownerID,
		SourceURL: sourceURL,
	})
}

// RedisOpt builds the asynq connection options shared by the API and worker.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
