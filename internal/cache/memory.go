package cache

import (
	"context"
	"fmt"
	"sync"

	"gallerymind/internal/model"
)

// Memory is a process-lifetime cache backed by a map. RWMutex lets concurrent
// readers proceed while writes stay exclusive, which suits the read-heavy
// access pattern of repeated uploads.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.Analysis
}

var _ Cache = (*Memory)(nil)

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]model.Analysis)}
}

// Get returns a copy of the cached analysis so callers cannot mutate the
// stored slices.
func (m *Memory) Get(_ context.Context, key string) (model.Analysis, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.entries[key]
	if !ok {
		return model.Analysis{}, false, nil
	}
	return a.Clone(), true, nil
}

// Put stores a copy of the analysis under key, replacing any prior entry.
func (m *Memory) Put(_ context.Context, key string, a model.Analysis) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to cache incomplete analysis: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = a.Clone()
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
