// Package ingest implements IngestService (spec.md §4.3): accept a
// source, commit it as a document, and publish a queue entry for it
// if and only if the document was newly created, never queuing a job
// for an uncommitted document. Grounded on
// original_source/src/application/documents/ingest.py, translated from
// SQLAlchemy session.begin() blocks onto explicit pgx.Tx boundaries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/queue"
)

// Repository is the subset of *document.Repository the service depends
// on, narrowed to an interface so tests can substitute a fake.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, q document.Querier, source string) (*document.Document, error)
	BySource(ctx context.Context, q document.Querier, source string) (*document.Document, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, target document.Status) (*document.Document, error)
}

// Queue is the subset of *queue.Queue the service depends on.
type Queue interface {
	Length(ctx context.Context, list string) (int64, error)
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

// Service implements the 4-step ingest algorithm of spec.md §4.3.
type Service struct {
	repo           Repository
	queue          Queue
	queueMaxLength int
}

// New builds an ingest Service.
func New(repo Repository, q Queue, queueMaxLength int) *Service {
	return &Service{repo: repo, queue: q, queueMaxLength: queueMaxLength}
}

// Ingest creates (or idempotently replays) a document for source and
// publishes a queue entry for it exactly once.
func (s *Service) Ingest(ctx context.Context, source string) (*document.Document, error) {
	length, err := s.queue.Length(ctx, queue.MainQueue)
	if err != nil {
		return nil, err
	}
	if length >= int64(s.queueMaxLength) {
		return nil, &apperrors.QueueFull{Current: length, Limit: int64(s.queueMaxLength)}
	}

	doc, isNew, err := s.commit(ctx, source)
	if err != nil {
		return nil, err
	}
	if !isNew {
		// Idempotent replay: a committed document already exists for this
		// source, and it was queued the first time it was created.
		return doc, nil
	}

	if err := s.queue.Enqueue(ctx, doc.ID); err != nil {
		s.compensate(ctx, doc.ID)
		return nil, apperrors.NewInfraError("broker", fmt.Errorf("enqueue document %s: %w", doc.ID, err))
	}

	return doc, nil
}

// commit opens the ingest transaction and either creates a fresh PENDING
// document or, on a unique-violation, rolls back and replays the existing
// one by source. isNew reports which branch was taken.
func (s *Service) commit(ctx context.Context, source string) (doc *document.Document, isNew bool, err error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, false, apperrors.NewInfraError("store", fmt.Errorf("begin ingest tx: %w", err))
	}

	doc, createErr := s.repo.Create(ctx, tx, source)
	if createErr != nil {
		_ = tx.Rollback(ctx)

		var dup *apperrors.DuplicateSource
		if !errors.As(createErr, &dup) {
			return nil, false, apperrors.NewInfraError("store", fmt.Errorf("create document: %w", createErr))
		}

		existing, replayErr := s.replayBySource(ctx, source)
		if replayErr != nil {
			return nil, false, replayErr
		}
		if existing == nil {
			// Should not happen: the unique-violation implies a row exists.
			return nil, false, apperrors.NewInfraError("store", fmt.Errorf("duplicate source %q not found on replay", source))
		}
		slog.Info("ingest: idempotent replay", "source", source, "document_id", existing.ID)
		return existing, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, apperrors.NewInfraError("store", fmt.Errorf("commit ingest tx: %w", err))
	}
	return doc, true, nil
}

// replayBySource reads the existing document in its own transaction,
// kept separate from the failed create so the commit-then-publish
// ordering is never blurred across the two code paths.
func (s *Service) replayBySource(ctx context.Context, source string) (*document.Document, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("begin replay tx: %w", err))
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.BySource(ctx, tx, source)
	if err != nil {
		return nil, apperrors.NewInfraError("store", fmt.Errorf("replay by source: %w", err))
	}
	return doc, nil
}

// compensate marks a document FAILED after its enqueue failed, in a brand
// new transaction never reused from the original commit (Design Notes §9:
// combining them reintroduces the ghost-document failure mode).
func (s *Service) compensate(ctx context.Context, id uuid.UUID) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		slog.Error("ingest: could not open compensation tx", "document_id", id, "error", err)
		return
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.UpdateStatus(ctx, tx, id, document.StatusFailed); err != nil {
		slog.Error("ingest: could not mark document failed after enqueue failure", "document_id", id, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		slog.Error("ingest: could not commit compensation tx", "document_id", id, "error", err)
	}
}
