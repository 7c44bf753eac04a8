// Package process implements DocumentProcessor (spec.md §4.5): claim a
// document under a row lock, read/chunk/embed/index its content with no
// DB transaction held, then finalize or fail in a transaction of its
// own. Grounded on
// original_source/src/application/documents/process.py, translated from
// SQLAlchemy's async session.begin() blocks onto explicit pgx.Tx scopes.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/chunking"
	"github.com/pixell07/docpipeline/internal/document"
)

// Repository is the subset of *document.Repository the processor depends on.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	ByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*document.Document, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, target document.Status) (*document.Document, error)
	RetryDocument(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*document.Document, error)
	ClearFilePath(ctx context.Context, q document.Querier, id uuid.UUID) error
}

// FileStore is the subset of *filestore.Store the processor depends on.
type FileStore interface {
	Read(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Chunker splits document text into embeddable windows.
type Chunker interface {
	Split(text string) ([]chunking.Chunk, error)
}

// Embedder computes vectors for a batch of chunk texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex upserts (chunk, vector) tuples keyed by a deterministic id.
type VectorIndex interface {
	Upsert(ctx context.Context, documentID uuid.UUID, chunkIndex int, content string, vector []float32) error
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// Processor advances one document through claim -> heavy lifting ->
// finalize/fail, per spec.md §4.5.
type Processor struct {
	repo     Repository
	files    FileStore
	chunker  Chunker
	embedder Embedder
	index    VectorIndex
}

// New builds a Processor.
func New(repo Repository, files FileStore, chunker Chunker, embedder Embedder, index VectorIndex) *Processor {
	return &Processor{repo: repo, files: files, chunker: chunker, embedder: embedder, index: index}
}

// Process runs the full pipeline for documentID. An error from the claim
// step leaves the document as it was. Any later error has already been
// followed by fail(), which marks the document FAILED (if that write also
// fails, the document stays PROCESSING). The caller (the worker) is
// responsible only for retry/DLQ accounting.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) error {
	filePath, err := p.claim(ctx, documentID)
	if err != nil {
		return err
	}

	if procErr := p.run(ctx, documentID, filePath); procErr != nil {
		p.fail(ctx, documentID, filePath, procErr)
		return procErr
	}
	return nil
}

// claim locks the row, validates it is eligible, and transitions it to
// PROCESSING, all inside a single transaction.
func (p *Processor) claim(ctx context.Context, documentID uuid.UUID) (filePath *string, err error) {
	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("begin claim tx: %w", err))
	}

	doc, err := p.repo.ByIDForUpdate(ctx, tx, documentID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperrors.NewInfraError("store", fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		_ = tx.Rollback(ctx)
		return nil, &apperrors.DocumentNotFound{ID: documentID.String()}
	}
	if doc.Status == document.StatusDone || doc.Status == document.StatusProcessing {
		_ = tx.Rollback(ctx)
		return nil, &apperrors.ProcessingConflict{ID: documentID.String(), Status: string(doc.Status)}
	}

	// A redelivered job may find the document FAILED (its previous attempt
	// already ran fail() to completion). FAILED->PROCESSING is not a legal
	// edge (spec.md §4.2); retry first to land on PENDING, respecting
	// MAX_RETRIES, then take the ordinary PENDING->PROCESSING edge.
	if doc.Status == document.StatusFailed {
		if _, err := p.repo.RetryDocument(ctx, tx, documentID); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}

	if _, err := p.repo.UpdateStatus(ctx, tx, documentID, document.StatusProcessing); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("commit claim tx: %w", err))
	}
	return doc.FilePath, nil
}

// run performs the heavy lifting outside any DB transaction and then
// finalizes the document to DONE.
func (p *Processor) run(ctx context.Context, documentID uuid.UUID, filePath *string) error {
	var content string
	if filePath != nil {
		text, err := p.files.Read(ctx, *filePath)
		if err != nil {
			return fmt.Errorf("process: read file: %w", err)
		}
		content = text
	}

	if content != "" {
		chunks, err := p.chunker.Split(content)
		if err != nil {
			return fmt.Errorf("process: chunk content: %w", err)
		}
		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Content
			}
			vectors, err := p.embedder.EmbedDocuments(ctx, texts)
			if err != nil {
				return apperrors.NewInfraError("embedder", fmt.Errorf("embed chunks: %w", err))
			}
			if len(vectors) != len(chunks) {
				return fmt.Errorf("process: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
			}
			// Clear any chunks left over from a prior attempt before writing
			// the new set: deterministic point IDs make same-or-more chunks
			// idempotent under upsert alone, but a retry that produces fewer
			// chunks than the last attempt would otherwise orphan the excess
			// rows (spec.md §4.5's "idempotent at the index level" claim).
			if err := p.index.DeleteByDocument(ctx, documentID); err != nil {
				return err
			}
			for i, c := range chunks {
				if err := p.index.Upsert(ctx, documentID, c.Index, c.Content, vectors[i]); err != nil {
					return err
				}
			}
		}
	}

	return p.finalize(ctx, documentID, filePath)
}

// finalize transitions PROCESSING->DONE, clears file_path, and then
// best-effort deletes the file on disk.
func (p *Processor) finalize(ctx context.Context, documentID uuid.UUID, filePath *string) error {
	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInfraError("store", fmt.Errorf("begin finalize tx: %w", err))
	}

	if _, err := p.repo.UpdateStatus(ctx, tx, documentID, document.StatusDone); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := p.repo.ClearFilePath(ctx, tx, documentID); err != nil {
		_ = tx.Rollback(ctx)
		return apperrors.NewInfraError("store", fmt.Errorf("clear file path: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewInfraError("store", fmt.Errorf("commit finalize tx: %w", err))
	}

	if filePath != nil {
		if err := p.files.Delete(ctx, *filePath); err != nil {
			slog.Warn("process: best-effort file delete failed after DONE", "document_id", documentID, "path", *filePath, "error", err)
		}
	}
	return nil
}

// fail transitions the document to FAILED and best-effort deletes the
// file, logging (not propagating) any secondary failure in that path.
func (p *Processor) fail(ctx context.Context, documentID uuid.UUID, filePath *string, cause error) {
	if filePath != nil {
		if err := p.files.Delete(ctx, *filePath); err != nil {
			slog.Warn("process: best-effort file delete failed after error", "document_id", documentID, "path", *filePath, "error", err)
		}
	}

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		slog.Error("process: could not open failure tx", "document_id", documentID, "cause", cause, "error", err)
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = p.repo.UpdateStatus(ctx, tx, documentID, document.StatusFailed); err != nil {
		var invalid *apperrors.InvalidStateTransition
		if !errors.As(err, &invalid) {
			slog.Error("process: could not mark document failed", "document_id", documentID, "cause", cause, "error", err)
		}
		return
	}
	if err = p.repo.ClearFilePath(ctx, tx, documentID); err != nil {
		slog.Error("process: could not clear file path on failure", "document_id", documentID, "error", err)
		return
	}
	if err = tx.Commit(ctx); err != nil {
		slog.Error("process: could not commit failure tx", "document_id", documentID, "error", err)
	}
}
