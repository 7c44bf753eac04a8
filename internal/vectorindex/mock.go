package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MockIndex is an in-memory Index used in tests without Postgres/pgvector,
// mirroring original_source's MockEmbeddingService/MockLLMService pattern.
// lifecycle does not wire it: the running services always use the
// pgvector-backed index.
type MockIndex struct {
	mu      sync.Mutex
	points  map[uuid.UUID]Match
	vectors map[uuid.UUID][]float32
}

// NewMock builds an empty MockIndex.
func NewMock() *MockIndex {
	return &MockIndex{
		points:  make(map[uuid.UUID]Match),
		vectors: make(map[uuid.UUID][]float32),
	}
}

func (m *MockIndex) EnsureCollection(_ context.Context) error { return nil }

func (m *MockIndex) Upsert(_ context.Context, documentID uuid.UUID, chunkIndex int, content string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := PointID(documentID, chunkIndex)
	m.points[id] = Match{
		ChunkID:    id,
		DocumentID: documentID,
		ChunkIndex: chunkIndex,
		Content:    content,
	}
	m.vectors[id] = vector
	return nil
}

func (m *MockIndex) DeleteByDocument(_ context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.DocumentID == documentID {
			delete(m.points, id)
			delete(m.vectors, id)
		}
	}
	return nil
}

func (m *MockIndex) Query(_ context.Context, vector []float32, limit int) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 5
	}

	matches := make([]Match, 0, len(m.points))
	for id, p := range m.points {
		p.Score = cosineSimilarity(vector, m.vectors[id])
		matches = append(matches, p)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Index = (*MockIndex)(nil)
