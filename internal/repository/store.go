// Package repository persists analysis records and uploaded-image metadata.
// Two implementations exist: a Postgres store for deployments and an
// in-memory store for development and tests. Both enforce the status
// invariants: transitions only move forward, terminal writes carry a
// complete analysis, and a terminal record never changes again.
package repository

import (
	"context"
	"errors"
	"time"

	"gallerymind/internal/model"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("record not found")

// SearchQuery filters an owner's records. Text matches substrings of the
// description or any tag; Color matches one of the stored hex colors exactly.
type SearchQuery struct {
	OwnerID string
	Text    string
	Color   string
	Limit   int
	Offset  int
}

// Store is the durable keyed status store the pipeline writes through and the
// API reads from. All methods must be safe under concurrent callers across
// task executions.
type Store interface {
	// CreateImage records an uploaded original. Image rows are immutable.
	CreateImage(ctx context.Context, img *model.ImageRecord) error

	// CreatePending inserts a pending analysis record for rec.ID unless one
	// already exists; an existing record is left untouched so duplicate
	// triggers stay idempotent.
	CreatePending(ctx context.Context, rec *model.AnalysisRecord) error

	// Get returns the record by id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.AnalysisRecord, error)

	// MarkProcessing moves a pending record to processing. Re-marking a
	// record that is already processing refreshes its updated timestamp,
	// which the sweep uses as a liveness signal. Terminal records are left
	// untouched.
	MarkProcessing(ctx context.Context, id string) error

	// Complete finalizes the record with the analysis payload. No-op when the
	// record is already terminal.
	Complete(ctx context.Context, id string, a model.Analysis) error

	// Fail finalizes the record with fallback content and the failure cause.
	// No-op when the record is already terminal.
	Fail(ctx context.Context, id string, a model.Analysis, cause string) error

	// ListByOwner returns all of an owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.AnalysisRecord, error)

	// ListStuckProcessing returns processing records not updated since
	// cutoff, candidates for sweep reconciliation.
	ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*model.AnalysisRecord, error)

	// Search returns the owner's records matching q, newest first.
	Search(ctx context.Context, q SearchQuery) ([]*model.AnalysisRecord, error)
}
