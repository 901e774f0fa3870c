package analyzer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"gallerymind/internal/model"
)

const (
	sampleSize  = 150
	bucketWidth = 32
)

// DominantColors decodes the image, samples it down to 150x150, quantizes
// each channel into 32-wide buckets, and returns the three most frequent
// bucket centroids as hex strings. Ties keep first-seen bucket order; fewer
// than three buckets are padded with neutral gray.
func DominantColors(image []byte) ([]string, error) {
	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	small := imaging.Resize(img, sampleSize, sampleSize, imaging.Lanczos)

	counts := make(map[uint32]int)
	order := make([]uint32, 0, 64)
	pix := small.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		r := quantize(pix[i])
		g := quantize(pix[i+1])
		b := quantize(pix[i+2])
		key := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	colors := make([]string, 0, model.NumColors)
	for _, key := range order {
		if len(colors) == model.NumColors {
			break
		}
		colors = append(colors, fmt.Sprintf("#%06x", key))
	}
	for len(colors) < model.NumColors {
		colors = append(colors, "#808080")
	}
	return colors, nil
}

// quantize maps a channel value to the centroid of its 32-wide bucket.
func quantize(c uint8) uint8 {
	return c/bucketWidth*bucketWidth + bucketWidth/2
}
