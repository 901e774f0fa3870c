package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gallerymind/internal/model"
)

// MemoryStore keeps records in maps guarded by an RWMutex. Read locks allow
// multiple concurrent readers, which suits the poll-heavy read path. Every
// method hands out deep copies so callers cannot mutate internal state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.AnalysisRecord
	images  map[string]*model.ImageRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.AnalysisRecord),
		images:  make(map[string]*model.ImageRecord),
	}
}

// CreateImage stores an uploaded original's metadata.
func (m *MemoryStore) CreateImage(_ context.Context, img *model.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[img.ID]; ok {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	cp := *img
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.images[img.ID] = &cp
	return nil
}

// CreatePending inserts a pending record unless one already exists.
func (m *MemoryStore) CreatePending(_ context.Context, rec *model.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	cp := rec.Clone()
	cp.Status = model.StatusPending
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.records[rec.ID] = cp
	return nil
}

// Get returns a copy of the record or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// MarkProcessing advances a pending record and refreshes the timestamp of one
// already processing. Terminal records stay as they are.
func (m *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	if rec.Status.Terminal() {
		return nil
	}
	rec.Status = model.StatusProcessing
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete finalizes the record as completed with the given payload.
func (m *MemoryStore) Complete(_ context.Context, id string, a model.Analysis) error {
	return m.finalize(id, model.StatusCompleted, a, "")
}

// Fail finalizes the record as failed with fallback content and the cause.
func (m *MemoryStore) Fail(_ context.Context, id string, a model.Analysis, cause string) error {
	return m.finalize(id, model.StatusFailed, a, cause)
}

func (m *MemoryStore) finalize(id string, status model.Status, a model.Analysis, cause string) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("terminal write for %s rejected: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("analysis %s: %w", id, ErrNotFound)
	}
	if rec.Status.Terminal() {
		return nil
	}
	rec.Status = status
	rec.Analysis = a.Clone()
	rec.Error = cause
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByOwner returns the owner's records sorted newest first.
func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*model.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AnalysisRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListStuckProcessing returns processing records last touched before cutoff.
func (m *MemoryStore) ListStuckProcessing(_ context.Context, cutoff time.Time) ([]*model.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AnalysisRecord
	for _, rec := range m.records {
		if rec.Status == model.StatusProcessing && rec.UpdatedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Search filters the owner's records by substring and color, newest first.
func (m *MemoryStore) Search(_ context.Context, q SearchQuery) ([]*model.AnalysisRecord, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	color := strings.ToLower(strings.TrimSpace(q.Color))

	m.mu.RLock()
	var matched []*model.AnalysisRecord
	for _, rec := range m.records {
		if rec.OwnerID != q.OwnerID {
			continue
		}
		if text != "" && !matchesText(rec, text) {
			continue
		}
		if color != "" && !matchesColor(rec, color) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	return paginate(matched, q.Limit, q.Offset), nil
}

func matchesText(rec *model.AnalysisRecord, text string) bool {
	if strings.Contains(strings.ToLower(rec.Description), text) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), text) {
			return true
		}
	}
	return false
}

func matchesColor(rec *model.AnalysisRecord, color string) bool {
	for _, c := range rec.Colors {
		if strings.ToLower(c) == color {
			return true
		}
	}
	return false
}

func sortNewestFirst(recs []*model.AnalysisRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func paginate(recs []*model.AnalysisRecord, limit, offset int) []*model.AnalysisRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
