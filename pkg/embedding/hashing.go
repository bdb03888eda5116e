// Package embedding provides embedders that run in process.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const DefaultDimensions = 384

// Hashing embeds text by hashing lowercase tokens into a fixed number of
// signed buckets and normalising the result to unit length. The same text
// always maps to the same vector whatever the model name.
type Hashing struct {
	dimensions int
}

func NewHashing(dimensions int) *Hashing {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	return &Hashing{dimensions: dimensions}
}

func (h *Hashing) Dimensions(string) int {
	return h.dimensions
}

func (h *Hashing) Embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors = append(vectors, h.vector(text))
	}

	return vectors, nil
}

func (h *Hashing) vector(text string) []float32 {
	vector := make([]float32, h.dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, token := range tokens {
		sum := xxhash.Sum64String(token)
		bucket := int(sum % uint64(h.dimensions))

		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vector
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}

	return vector
}
