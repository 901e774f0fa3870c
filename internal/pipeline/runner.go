package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gallerymind/internal/cache"
	"gallerymind/internal/events"
	"gallerymind/internal/model"
	"gallerymind/internal/repository"
)

// Fetcher downloads the raw bytes behind a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Analyzer derives metadata from image bytes. The degraded flag reports that
// part of the result fell back to defaults.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (model.Analysis, bool)
}

// Publisher pushes status events to connected clients. May be nil when the
// process has no push channel; polling covers those consumers.
type Publisher interface {
	Publish(ev events.StatusEvent)
}

// Runner executes one analysis task end to end: mark processing, consult the
// cache, fetch, analyze, write the terminal state, announce it. The same code
// runs inside the in-process worker pool and the asynq worker, so both modes
// share identical semantics.
type Runner struct {
	store   repository.Store
	cache   cache.Cache
	fetch   Fetcher
	analyze Analyzer
	pub     Publisher
	log     *slog.Logger
}

// NewRunner wires a Runner. cache and pub may be nil.
func NewRunner(store repository.Store, c cache.Cache, f Fetcher, a Analyzer, pub Publisher, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, cache: c, fetch: f, analyze: a, pub: pub, log: log}
}

// Run processes the record until it is terminal. A nil return means the
// record reached a terminal state (or already was terminal); a non-nil error
// means a store or infrastructure failure left it unfinished, and the caller
// may retry the whole task.
func (r *Runner) Run(ctx context.Context, recordID string) error {
	rec, err := r.store.Get(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Status.Terminal() {
		r.log.Debug("record already terminal, skipping", "record_id", recordID, "status", rec.Status)
		return nil
	}

	if err := r.store.MarkProcessing(ctx, recordID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	r.publish(rec, model.StatusProcessing, nil, "")

	if a, ok := r.cacheGet(ctx, rec.SourceURL); ok {
		r.log.Info("analysis served from cache", "record_id", recordID)
		return r.complete(ctx, rec, a, false)
	}

	data, err := r.fetch.Fetch(ctx, rec.SourceURL)
	if err != nil {
		r.log.Warn("image fetch failed", "record_id", recordID, "error", err)
		return r.fail(ctx, rec, err.Error())
	}

	a, degraded := r.analyze.Analyze(ctx, data)
	if err := a.Validate(); err != nil {
		r.log.Warn("analysis incomplete, substituting fallback", "record_id", recordID, "error", err)
		a = model.Fallback()
		degraded = true
	}
	return r.complete(ctx, rec, a, degraded)
}

// complete writes the completed state and memoizes full-quality results.
func (r *Runner) complete(ctx context.Context, rec *model.AnalysisRecord, a model.Analysis, degraded bool) error {
	if err := r.store.Complete(ctx, rec.ID, a); err != nil {
		return fmt.Errorf("store completed: %w", err)
	}
	if !degraded {
		r.cachePut(ctx, rec.SourceURL, a)
	}
	r.publish(rec, model.StatusCompleted, &a, "")
	r.log.Info("analysis completed", "record_id", rec.ID, "degraded", degraded, "tags", len(a.Tags))
	return nil
}

// fail writes the failed state with fallback content so consumers always see
// a complete payload.
func (r *Runner) fail(ctx context.Context, rec *model.AnalysisRecord, cause string) error {
	fb := model.Fallback()
	if err := r.store.Fail(ctx, rec.ID, fb, cause); err != nil {
		return fmt.Errorf("store failed: %w", err)
	}
	r.publish(rec, model.StatusFailed, &fb, cause)
	return nil
}

// cacheGet treats every cache problem as a miss.
func (r *Runner) cacheGet(ctx context.Context, key string) (model.Analysis, bool) {
	if r.cache == nil || key == "" {
		return model.Analysis{}, false
	}
	a, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("cache read failed", "error", err)
		return model.Analysis{}, false
	}
	return a, ok
}

func (r *Runner) cachePut(ctx context.Context, key string, a model.Analysis) {
	if r.cache == nil || key == "" {
		return
	}
	if err := r.cache.Put(ctx, key, a); err != nil {
		r.log.Warn("cache write failed", "error", err)
	}
}

func (r *Runner) publish(rec *model.AnalysisRecord, status model.Status, a *model.Analysis, cause string) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(events.StatusEvent{
		RecordID: rec.ID,
		OwnerID:  rec.OwnerID,
		Status:   status,
		Analysis: a,
		Error:    cause,
	})
}
