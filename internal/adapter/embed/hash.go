package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"kbase/internal/port"
)

var _ port.Embedder = (*HashEmbedder)(nil)

// HashEmbedder maps text to a bag-of-words feature-hashed vector. It is
// fully offline and deterministic: texts sharing vocabulary land near each
// other, texts with disjoint vocabulary are orthogonal. Useful as a
// no-dependency provider and as the test embedder.
type HashEmbedder struct {
	dimension int
}

func NewHash(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dimension)
		for _, word := range hashWords(text) {
			h := fnv.New32a()
			h.Write([]byte(word))
			v[h.Sum32()%uint32(e.dimension)]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Dimension() int { return e.dimension }

func (e *HashEmbedder) ModelName() string { return "feature-hash" }

func hashWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
