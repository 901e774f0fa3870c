// Package analyzer turns raw image bytes into tags, a description, and
// dominant colors. Analyze never fails: any internal error degrades to
// deterministic fallback content instead of escaping the task.
package analyzer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gallerymind/internal/model"
)

// MaxDescriptionLen bounds stored descriptions.
const MaxDescriptionLen = 200

// DegradedDescription is stored when the caption model cannot be reached but
// the image bytes themselves were fetched fine.
const DegradedDescription = "Image uploaded. AI analysis is currently unavailable."

// CaptionSource produces a one-sentence caption for an image.
type CaptionSource interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
}

// Analyzer coordinates caption inference and pixel statistics under one
// wall-clock budget.
type Analyzer struct {
	captions CaptionSource
	budget   time.Duration
	log      *slog.Logger
}

// New constructs an Analyzer.
func New(captions CaptionSource, budget time.Duration, log *slog.Logger) *Analyzer {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{captions: captions, budget: budget, log: log}
}

// Analyze derives metadata from the image bytes. The degraded flag reports
// that some part of the result fell back to defaults; degraded results must
// not be memoized.
func (a *Analyzer) Analyze(ctx context.Context, image []byte) (res model.Analysis, degraded bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error("analyzer panic recovered", "panic", rec)
			res = model.Fallback()
			degraded = true
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	caption, err := a.captions.Caption(ctx, image)
	if err != nil {
		a.log.Warn("caption inference degraded", "error", err)
		caption = DegradedDescription
		degraded = true
	}
	res.Description = TruncateDescription(caption, MaxDescriptionLen)
	res.Tags = TagsFromCaption(caption)

	colors := model.Fallback().Colors
	if ctx.Err() == nil {
		extracted, err := DominantColors(image)
		if err != nil {
			a.log.Warn("color extraction degraded", "error", err)
			degraded = true
		} else {
			colors = extracted
		}
	} else {
		a.log.Warn("analysis budget exhausted before color extraction")
		degraded = true
	}
	res.Colors = colors
	return res, degraded
}

// TagsFromCaption tokenizes the caption into ordered, case-normalized tags.
// Words of three characters or fewer and stopwords are dropped, duplicates
// keep their first position, and the list is capped at MaxTags before being
// padded from the fallback vocabulary up to MinTags.
func TagsFromCaption(caption string) []string {
	cleaned := strings.NewReplacer(",", " ", ".", " ").Replace(strings.ToLower(caption))
	seen := make(map[string]struct{})
	tags := make([]string, 0, model.MaxTags)
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tags = append(tags, word)
		if len(tags) == model.MaxTags {
			break
		}
	}
	for _, fb := range model.FallbackTags {
		if len(tags) >= model.MinTags {
			break
		}
		if _, dup := seen[fb]; dup {
			continue
		}
		seen[fb] = struct{}{}
		tags = append(tags, fb)
	}
	return tags
}

// TruncateDescription cuts the text to at most max bytes, backing up to the
// last space so words are not split. A single overlong word is hard-cut.
func TruncateDescription(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.ToValidUTF8(strings.TrimRight(cut, " "), "")
}
