package embedding

import (
	"context"
	"hash/fnv"
)

// MockEmbedder produces deterministic pseudo-random vectors seeded from
// the input text, letting tests exercise the embed/upsert/search path
// without an API key. Grounded on
// original_source/src/services/embeddings.py's MockEmbeddingService.
type MockEmbedder struct {
	Dimensions int
}

// NewMock builds a MockEmbedder at the given dimensionality (1536 to
// match text-embedding-3-small when zero).
func NewMock(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockEmbedder{Dimensions: dimensions}
}

func (m *MockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vectorFor(t)
	}
	return out, nil
}

func (m *MockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return m.vectorFor(text), nil
}

func (m *MockEmbedder) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.Dimensions)
	state := seed
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(state%2000)/1000 - 1
	}
	return vec
}

var _ Embedder = (*MockEmbedder)(nil)
