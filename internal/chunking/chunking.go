// Package chunking splits document text into overlapping windows ahead of
// embedding. Grounded on the teacher's splitDocument helper
// (internal/document/document.go), reusing langchaingo's recursive
// character splitter rather than hand-rolling one, with defaults matching
// original_source/src/services/chunking.py's ChunkingService
// (chunk_size=500, overlap=50).
package chunking

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is one windowed slice of a document's text, carrying its position
// so vectorindex can derive a deterministic point ID from
// (document_id, index).
type Chunk struct {
	Index   int
	Content string
}

// Splitter turns raw document text into chunks.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// New builds a Splitter. size and overlap default to 500/50 (matching the
// original service) when zero.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = 500
	}
	if overlap <= 0 {
		overlap = 50
	}
	return &Splitter{chunkSize: size, chunkOverlap: overlap}
}

// Split divides text into chunks using a recursive-character strategy
// with langchaingo's default separators: paragraph breaks first, falling
// back to line breaks, spaces and then single characters once a
// candidate split still exceeds chunkSize.
func (s *Splitter) Split(text string) ([]Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
	)

	docs, err := textsplitter.CreateDocuments(splitter, []string{text}, nil)
	if err != nil {
		return nil, fmt.Errorf("chunking: split: %w", err)
	}

	chunks := make([]Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = Chunk{Index: i, Content: d.PageContent}
	}
	return chunks, nil
}
