// Package search implements the RAG query contract of spec.md §6's
// POST /search: embed the query, retrieve nearest chunks from the
// vector index, and ask the LLM to answer using them as context.
// Grounded on original_source/src/application/search/search.py's
// SearchService, adapted onto internal/vectorindex in place of Qdrant
// and internal/llmclient's synchronous GenerateAnswer in place of
// streaming (the teacher's retrieval.RAGService streams; search here is
// a request/response endpoint, not SSE, per spec.md §6).
package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixell07/docpipeline/internal/vectorindex"
)

// Embedder is the subset of embedding.Embedder search depends on.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the subset of vectorindex.Index search depends on.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, limit int) ([]vectorindex.Match, error)
}

// LLMClient is the subset of llmclient.Client search depends on.
type LLMClient interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
}

// Result is one scored retrieval hit in the HTTP response shape of
// spec.md §6.
type Result struct {
	Text       string    `json:"text"`
	Score      float32   `json:"score"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
}

// Response is the POST /search response body.
type Response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Service orchestrates embed -> vector search -> LLM answer.
type Service struct {
	embedder Embedder
	index    VectorIndex
	llm      LLMClient
}

// New builds a search Service.
func New(embedder Embedder, index VectorIndex, llm LLMClient) *Service {
	return &Service{embedder: embedder, index: index, llm: llm}
}

// Search answers query using up to limit retrieved chunks as context.
func (s *Service) Search(ctx context.Context, query string, limit int) (*Response, error) {
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("search: vector query: %w", err)
	}

	contexts := make([]string, len(matches))
	results := make([]Result, len(matches))
	for i, m := range matches {
		contexts[i] = m.Content
		results[i] = Result{
			Text:       m.Content,
			Score:      m.Score,
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
		}
	}

	answer, err := s.llm.GenerateAnswer(ctx, query, contexts)
	if err != nil {
		return nil, fmt.Errorf("search: generate answer: %w", err)
	}

	return &Response{Answer: answer, Results: results}, nil
}
