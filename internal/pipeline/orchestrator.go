// Package pipeline drives image analysis from trigger to terminal status:
// a bounded worker pool, a supervised task registry, the shared task runner,
// and a sweep reconciler for records orphaned by a crash.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gallerymind/internal/events"
	"gallerymind/internal/model"
	"gallerymind/internal/repository"
)

type task struct {
	recordID string
}

// Orchestrator schedules analysis tasks onto a fixed pool of workers. Triggers
// never block: when the queue is full the record is failed with fallback
// content instead of stalling the caller.
type Orchestrator struct {
	store   repository.Store
	runner  *Runner
	reg     *Registry
	queue   chan task
	workers int
	pub     Publisher
	log     *slog.Logger
}

// NewOrchestrator builds an Orchestrator with queue capacity tied to worker
// count.
func NewOrchestrator(store repository.Store, runner *Runner, reg *Registry, workers int, pub Publisher, log *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		runner:  runner,
		reg:     reg,
		queue:   make(chan task, workers*4),
		workers: workers,
		pub:     pub,
		log:     log,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		go o.worker(ctx)
	}
}

// Trigger ensures a pending record exists and schedules its analysis. It
// returns once the task is queued; a record already in flight or terminal is
// acknowledged without scheduling anything.
func (o *Orchestrator) Trigger(ctx context.Context, recordID, ownerID, sourceURL string) error {
	rec := &model.AnalysisRecord{ID: recordID, OwnerID: ownerID, SourceURL: sourceURL}
	if err := o.store.CreatePending(ctx, rec); err != nil {
		return fmt.Errorf("create pending record: %w", err)
	}
	current, err := o.store.Get(ctx, recordID)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if current.Status.Terminal() {
		o.log.Debug("trigger for terminal record ignored", "record_id", recordID, "status", current.Status)
		return nil
	}
	if !o.reg.Claim(recordID) {
		o.log.Debug("trigger for in-flight record ignored", "record_id", recordID)
		return nil
	}

	if o.pub != nil {
		o.pub.Publish(events.StatusEvent{RecordID: recordID, OwnerID: current.OwnerID, Status: current.Status})
	}

	select {
	case o.queue <- task{recordID: recordID}:
	default:
		// Dropping beats blocking the trigger path; the record must still
		// reach a terminal state so nothing polls forever.
		o.log.Warn("worker queue full, failing record", "record_id", recordID)
		o.reg.Release(recordID)
		fb := model.Fallback()
		if err := o.store.Fail(ctx, recordID, fb, "processing queue full"); err != nil {
			return fmt.Errorf("fail dropped record: %w", err)
		}
		if o.pub != nil {
			o.pub.Publish(events.StatusEvent{RecordID: recordID, OwnerID: current.OwnerID, Status: model.StatusFailed, Analysis: &fb, Error: "processing queue full"})
		}
	}
	return nil
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.queue:
			o.process(t)
		}
	}
}

// process runs one task to its terminal state. The task context is detached
// from the server lifecycle: analysis keeps its record consistent even while
// the process is shutting down.
func (o *Orchestrator) process(t task) {
	defer o.reg.Release(t.recordID)
	if err := o.runner.Run(context.Background(), t.recordID); err != nil {
		o.log.Error("analysis task failed", "record_id", t.recordID, "error", err)
	}
}
