// Package embedding wraps langchaingo's embeddings.Embedder so the rest
// of the code depends on a clean interface instead of the langchaingo
// type directly. Adapted from the teacher's internal/embedding package,
// unchanged aside from dropping the tenant-scoped constructor name.
package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// Embedder is the interface the rest of the app depends on.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LangChainEmbedder wraps langchaingo's embeddings.EmbedderImpl.
type LangChainEmbedder struct {
	inner *embeddings.EmbedderImpl
}

// New creates an embedder backed by OpenAI's text-embedding-3-small
// model via langchaingo.
func New(apiKey string) (*LangChainEmbedder, error) {
	llm, err := lcopenai.New(
		lcopenai.WithToken(apiKey),
		lcopenai.WithEmbeddingModel("text-embedding-3-small"),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding: new llm client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("embedding: new embedder: %w", err)
	}

	return &LangChainEmbedder{inner: embedder}, nil
}

// EmbedDocuments embeds a batch of texts.
func (e *LangChainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.EmbedDocuments(ctx, texts)
}

// EmbedQuery embeds a single query string.
func (e *LangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, text)
}
