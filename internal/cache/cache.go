// Package cache memoizes analysis results keyed by source URL so a second
// upload of the same image skips the fetch and inference round-trip. Loss of
// the cache affects performance, never correctness.
package cache

import (
	"context"

	"gallerymind/internal/model"
)

// Cache stores completed analyses by source URL. Implementations must be safe
// under concurrent Get/Put from parallel analysis tasks.
type Cache interface {
	// Get returns the memoized analysis for key and whether one exists.
	Get(ctx context.Context, key string) (model.Analysis, bool, error)
	// Put stores the analysis under key. Only full-quality results should be
	// written; degraded payloads must never be memoized.
	Put(ctx context.Context, key string, a model.Analysis) error
}
