// Package upload implements UploadService (spec.md §4.4): attach
// uploaded bytes to an existing document and schedule processing.
// Grounded on original_source/src/application/documents/upload.py; the
// file write happens outside any DB transaction via internal/filestore,
// while the metadata update and enqueue are committed together in one
// transaction, per the trade-off spec.md §4.4 and §9 explicitly keep.
package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/queue"
)

// Repository is the subset of *document.Repository the service depends on.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	ByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*document.Document, error)
	SetFilePath(ctx context.Context, q document.Querier, id uuid.UUID, path string) error
}

// Queue is the subset of *queue.Queue the service depends on.
type Queue interface {
	Length(ctx context.Context, list string) (int64, error)
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

// FileStore is the subset of *filestore.Store the service depends on.
type FileStore interface {
	Save(ctx context.Context, documentID uuid.UUID, filename string, r io.Reader) (string, error)
}

// Service implements the upload algorithm of spec.md §4.4.
type Service struct {
	repo           Repository
	queue          Queue
	files          FileStore
	queueMaxLength int
}

// New builds an upload Service.
func New(repo Repository, q Queue, files FileStore, queueMaxLength int) *Service {
	return &Service{repo: repo, queue: q, files: files, queueMaxLength: queueMaxLength}
}

// Upload attaches filename's content to documentID and enqueues it for
// processing. The document must exist and not already be PROCESSING or
// DONE.
func (s *Service) Upload(ctx context.Context, documentID uuid.UUID, filename string, content io.Reader) (*document.Document, error) {
	length, err := s.queue.Length(ctx, queue.MainQueue)
	if err != nil {
		return nil, err
	}
	if length >= int64(s.queueMaxLength) {
		return nil, &apperrors.QueueFull{Current: length, Limit: int64(s.queueMaxLength)}
	}

	path, err := s.files.Save(ctx, documentID, filename, content)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("begin upload tx: %w", err))
	}

	doc, err := s.repo.ByIDForUpdate(ctx, tx, documentID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperrors.NewInfraError("store", fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		_ = tx.Rollback(ctx)
		return nil, &apperrors.DocumentNotFound{ID: documentID.String()}
	}
	if doc.Status == document.StatusProcessing || doc.Status == document.StatusDone {
		_ = tx.Rollback(ctx)
		return nil, &apperrors.ProcessingConflict{ID: documentID.String(), Status: string(doc.Status)}
	}

	if err := s.repo.SetFilePath(ctx, tx, documentID, path); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperrors.NewInfraError("store", fmt.Errorf("set file path: %w", err))
	}

	// Enqueue inside the same transaction as the metadata write: a
	// file_path with no scheduled job is the worse invariant violation
	// here, since the broker write is idempotent and a worker that finds
	// no document for a stray entry will DLQ it (spec.md §4.4).
	if err := s.queue.Enqueue(ctx, documentID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperrors.NewInfraError("broker", fmt.Errorf("enqueue document %s: %w", documentID, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("commit upload tx: %w", err))
	}

	doc.FilePath = &path
	return doc, nil
}
