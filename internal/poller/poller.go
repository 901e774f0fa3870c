// Package poller keeps a client-side view of analysis records in sync by
// polling status reads. Push subscriptions can feed the same view through
// Merge; polling remains the contract that guarantees convergence.
package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gallerymind/internal/model"
)

// StatusReader fetches the current state of one record.
type StatusReader interface {
	Status(ctx context.Context, recordID string) (*model.AnalysisRecord, error)
}

const defaultRequestTimeout = 5 * time.Second

// Poller owns a map of tracked records and refreshes every non-terminal one
// on a fixed interval. The watch set is recomputed from the live map on every
// tick, so records tracked after the loop started are picked up and terminal
// records drop out on their own.
type Poller struct {
	reader   StatusReader
	interval time.Duration
	timeout  time.Duration
	onUpdate func(*model.AnalysisRecord)
	log      *slog.Logger

	mu      sync.Mutex
	records map[string]*model.AnalysisRecord
}

// New constructs a Poller. onUpdate, when non-nil, runs after every accepted
// merge with a copy of the new state; it is called without internal locks
// held, so it may call back into the Poller.
func New(reader StatusReader, interval time.Duration, onUpdate func(*model.AnalysisRecord), log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		reader:   reader,
		interval: interval,
		timeout:  defaultRequestTimeout,
		onUpdate: onUpdate,
		log:      log,
		records:  make(map[string]*model.AnalysisRecord),
	}
}

// Track adds a record to the watched set. Unknown records start out pending;
// tracking an id twice is a no-op.
func (p *Poller) Track(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[id]; ok {
		return
	}
	p.records[id] = &model.AnalysisRecord{ID: id, Status: model.StatusPending}
}

// Get returns a copy of the tracked record.
func (p *Poller) Get(id string) (*model.AnalysisRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Snapshot returns copies of all tracked records, ordered by id.
func (p *Poller) Snapshot() []*model.AnalysisRecord {
	p.mu.Lock()
	out := make([]*model.AnalysisRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec.Clone())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run polls until ctx is cancelled. Requests carry their own timeout rather
// than ctx, so teardown never cancels a refresh mid-flight.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	for _, id := range p.watchSet() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		rec, err := p.reader.Status(ctx, id)
		cancel()
		if err != nil {
			p.log.Debug("status refresh failed", "record_id", id, "error", err)
			continue
		}
		p.Merge(rec)
	}
}

// watchSet lists the non-terminal tracked ids as of right now.
func (p *Poller) watchSet() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.records))
	for id, rec := range p.records {
		if !rec.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Merge folds an update into the local view. Updates for untracked records
// are ignored, repeats of the current status are no-ops, and a record never
// moves backward, so concurrent deliveries from overlapping refreshes or a
// push feed are safe in any order.
func (p *Poller) Merge(rec *model.AnalysisRecord) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	cur, ok := p.records[rec.ID]
	if !ok || !cur.Status.CanAdvance(rec.Status) {
		p.mu.Unlock()
		return
	}
	clone := rec.Clone()
	p.records[rec.ID] = clone
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(clone.Clone())
	}
}
