package pipeline

import (
	"context"
	"log/slog"
	"time"

	"gallerymind/internal/events"
	"gallerymind/internal/model"
	"gallerymind/internal/repository"
)

// Sweeper reconciles records stranded in processing. A task that died with its
// process leaves no live claim behind; once such a record goes stale the
// sweeper finalizes it as failed with fallback content. It never re-queues
// work.
type Sweeper struct {
	store      repository.Store
	live       func(id string) bool
	interval   time.Duration
	staleAfter time.Duration
	pub        Publisher
	log        *slog.Logger
}

// NewSweeper builds a Sweeper. live reports whether a record still has a
// running task and may be nil when the process has no registry to consult.
func NewSweeper(store repository.Store, live func(id string) bool, interval, staleAfter time.Duration, pub Publisher, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:      store,
		live:       live,
		interval:   interval,
		staleAfter: staleAfter,
		pub:        pub,
		log:        log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep finalizes every stale processing record without a live task.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	recs, err := s.store.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep listing failed", "error", err)
		return
	}
	for _, rec := range recs {
		if s.live != nil && s.live(rec.ID) {
			continue
		}
		fb := model.Fallback()
		if err := s.store.Fail(ctx, rec.ID, fb, "processing abandoned"); err != nil {
			s.log.Error("sweep finalize failed", "record_id", rec.ID, "error", err)
			continue
		}
		s.log.Warn("stale record finalized", "record_id", rec.ID, "stale_for", time.Since(rec.UpdatedAt).String())
		if s.pub != nil {
			s.pub.Publish(events.StatusEvent{RecordID: rec.ID, OwnerID: rec.OwnerID, Status: model.StatusFailed, Analysis: &fb, Error: "processing abandoned"})
		}
	}
}
