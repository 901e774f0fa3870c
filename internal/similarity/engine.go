// Package similarity ranks a user's images against a reference image by
// comparing AI-derived tags and dominant colors.
package similarity

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"gallerymind/internal/model"
)

// Weights favor semantic tag overlap over palette overlap.
const (
	tagWeight   = 0.7
	colorWeight = 0.3
)

// K bounds for ranked reads.
const (
	DefaultK = 5
	MaxK     = 50
)

// Match is one ranked candidate.
type Match struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
}

type scored struct {
	rec   *model.AnalysisRecord
	score float64
}

// Rank scores every candidate against ref and returns the top k matches,
// highest first. The reference itself and zero-score candidates are excluded.
// A reference with no tags and no colors (still processing) yields an empty
// set. Ties go to the most recently created candidate.
func Rank(ref *model.AnalysisRecord, pool []*model.AnalysisRecord, k int) []Match {
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	if ref == nil || (len(ref.Tags) == 0 && len(ref.Colors) == 0) {
		return nil
	}

	refTags := tagSet(ref.Tags)
	refColors := colorVector(ref.Colors)

	var ranked []scored
	for _, cand := range pool {
		if cand.ID == ref.ID {
			continue
		}
		s := tagWeight*jaccard(refTags, tagSet(cand.Tags)) +
			colorWeight*cosine(refColors, colorVector(cand.Colors))
		if s > 0 {
			ranked = append(ranked, scored{rec: cand, score: s})
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].rec.CreatedAt.Equal(ranked[j].rec.CreatedAt) {
			return ranked[i].rec.CreatedAt.After(ranked[j].rec.CreatedAt)
		}
		return ranked[i].rec.ID < ranked[j].rec.ID
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Match, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, Match{CandidateID: s.rec.ID, Score: s.score})
	}
	return out
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// jaccard is |A∩B| / |A∪B|; an empty union scores 0.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// colorVector flattens up to three hex colors into RGB channels, zero-padding
// missing slots so palettes of different sizes stay comparable.
func colorVector(colors []string) [9]float64 {
	var v [9]float64
	for i, c := range colors {
		if i >= 3 {
			break
		}
		r, g, b, ok := parseHex(c)
		if !ok {
			continue
		}
		v[i*3] = float64(r)
		v[i*3+1] = float64(g)
		v[i*3+2] = float64(b)
	}
	return v
}

func parseHex(s string) (r, g, b uint8, ok bool) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, false
	}
	n, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(n >> 16), uint8(n >> 8 & 0xff), uint8(n & 0xff), true
}

// cosine is dot(a,b) / (|a|·|b|); zero-magnitude vectors score 0.
func cosine(a, b [9]float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
