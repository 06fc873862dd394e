package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder generates deterministic embeddings from a text hash. It
// exists for tests and offline development, not for real recall quality.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a mock embedder. Zero dims defaults to 384 to
// match all-MiniLM-L6-v2.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims == 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

// Embed derives a unit vector from an FNV hash of the text, so the same
// text always maps to the same vector.
func (m *MockEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make(Vector, m.dims)
	for i := 0; i < m.dims; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return unitNorm(vec), nil
}

func (m *MockEmbedder) Dims() int { return m.dims }

func unitNorm(vec Vector) Vector {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
