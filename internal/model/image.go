// Package model contains the struct definitions shared across packages.
package model

import (
	"fmt"
	"time"
)

// Status describes the analysis lifecycle of an image.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the pipeline; both terminal states share the top
// rank so neither can replace the other.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvance reports whether moving from s to next is a forward transition.
// Transitions never move backward and terminal states never change.
func (s Status) CanAdvance(next Status) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// Fallback content substituted when inference is unavailable or fails. The
// tag list doubles as the padding vocabulary for captions that yield fewer
// than MinTags entries.
var (
	FallbackTags   = []string{"image", "photo", "picture", "visual", "graphic"}
	FallbackColors = []string{"#000000", "#ffffff", "#808080"}
)

// FallbackDescription is stored when analysis degraded to defaults.
const FallbackDescription = "Image processing encountered an error. Please try again later."

// Bounds every terminal Analysis must satisfy.
const (
	MinTags   = 5
	MaxTags   = 10
	NumColors = 3
)

// Analysis is the AI-derived metadata for one image.
type Analysis struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Colors      []string `json:"colors"`
}

// Fallback returns a fresh copy of the deterministic fallback payload.
func Fallback() Analysis {
	return Analysis{
		Description: FallbackDescription,
		Tags:        append([]string(nil), FallbackTags...),
		Colors:      append([]string(nil), FallbackColors...),
	}
}

// Validate checks the completeness rules every terminal record must satisfy.
func (a Analysis) Validate() error {
	if a.Description == "" {
		return fmt.Errorf("empty description")
	}
	if n := len(a.Tags); n < MinTags || n > MaxTags {
		return fmt.Errorf("tag count %d outside [%d,%d]", n, MinTags, MaxTags)
	}
	for _, t := range a.Tags {
		if t == "" {
			return fmt.Errorf("empty tag")
		}
	}
	if n := len(a.Colors); n != NumColors {
		return fmt.Errorf("color count %d, want %d", n, NumColors)
	}
	for _, c := range a.Colors {
		if !isHexColor(c) {
			return fmt.Errorf("malformed color %q", c)
		}
	}
	return nil
}

// Clone returns a deep copy so shared stores can hand out records without
// aliasing internal slices.
func (a Analysis) Clone() Analysis {
	out := a
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	if a.Colors != nil {
		out.Colors = append([]string(nil), a.Colors...)
	}
	return out
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// AnalysisRecord is the durable row tracking one image's analysis. Exactly one
// record exists per image id.
type AnalysisRecord struct {
	ID        string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
	SourceURL string `json:"source_url,omitempty"`
	Status    Status `json:"status"`
	Analysis
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	out := *r
	out.Analysis = r.Analysis.Clone()
	return &out
}

// ImageRecord holds metadata about an uploaded original. Immutable after
// creation.
type ImageRecord struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	StorageKey   string    `json:"storage_key"`
	ThumbnailKey string    `json:"thumbnail_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
