// Package worker implements DocumentWorker (spec.md §4.6): dequeue,
// process, ack/retry/DLQ, with graceful shutdown between jobs. Grounded
// on original_source/src/workers/document_worker.py's run/process loop,
// and on the ctx-cancellable loop + panic-safe goroutine idiom of
// bobmcallan-vire's internal/services/jobmanager (manager.go's safeGo,
// watcher.go's select/ticker pattern).
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/metrics"
)

// Queue is the subset of *queue.Queue the worker depends on.
type Queue interface {
	Dequeue(ctx context.Context) (documentID uuid.UUID, raw []byte, err error)
	Acknowledge(ctx context.Context, raw []byte) error
	MoveToDLQ(ctx context.Context, raw []byte, reason string) error
	RetryCounter(ctx context.Context, documentID uuid.UUID) (int, error)
	IncrRetryCounter(ctx context.Context, documentID uuid.UUID) error
	DeleteRetryCounter(ctx context.Context, documentID uuid.UUID) error
}

// Repository is the subset of *document.Repository the worker depends on,
// used only for the give-up-and-DLQ path.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, target document.Status) (*document.Document, error)
}

// Processor runs the full document pipeline for one job.
type Processor interface {
	Process(ctx context.Context, documentID uuid.UUID) error
}

// VectorIndex is ensured to exist once at startup.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
}

// Worker is a supervised dequeue/process/ack loop. One instance runs per
// process; many processes may run concurrently against the same broker
// and store.
type Worker struct {
	queue        Queue
	repo         Repository
	processor    Processor
	vectorIndex  VectorIndex
	maxRetries   int
	pollInterval time.Duration
	errorBackoff time.Duration
}

// New builds a Worker.
func New(q Queue, repo Repository, processor Processor, vectorIndex VectorIndex, maxRetries int) *Worker {
	return &Worker{
		queue:        q,
		repo:         repo,
		processor:    processor,
		vectorIndex:  vectorIndex,
		maxRetries:   maxRetries,
		pollInterval: time.Second,
		errorBackoff: 5 * time.Second,
	}
}

// Run loops until ctx is cancelled, which only stops the loop between
// jobs: a job already handed to handleJob runs to completion (ack or
// leave in-flight) against a context detached from ctx's cancellation,
// per spec.md §5's "cancel must not cut the current DB transaction
// mid-flight".
func (w *Worker) Run(ctx context.Context) error {
	if err := w.vectorIndex.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("worker: ensure vector collection: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		documentID, raw, err := w.queue.Dequeue(ctx)
		if err != nil {
			slog.Error("worker: dequeue error", "error", err)
			if w.sleep(ctx, w.errorBackoff) {
				return nil
			}
			continue
		}
		if documentID == uuid.Nil {
			if w.sleep(ctx, w.pollInterval) {
				return nil
			}
			continue
		}

		w.handleJob(context.WithoutCancel(ctx), documentID, raw)
	}
}

// sleep waits for d or ctx cancellation, reporting whether ctx ended the
// wait early.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

// handleJob implements spec.md §4.6 steps 3-5 for one dequeued entry.
func (w *Worker) handleJob(ctx context.Context, documentID uuid.UUID, raw []byte) {
	retryCount, err := w.queue.RetryCounter(ctx, documentID)
	if err != nil {
		slog.Error("worker: retry counter lookup failed", "document_id", documentID, "error", err)
		return
	}

	if retryCount >= w.maxRetries {
		w.giveUp(ctx, documentID, raw, retryCount)
		return
	}

	if err := w.processor.Process(ctx, documentID); err != nil {
		if incrErr := w.queue.IncrRetryCounter(ctx, documentID); incrErr != nil {
			slog.Error("worker: could not increment retry counter", "document_id", documentID, "error", incrErr)
		}
		metrics.DocumentsProcessed.WithLabelValues("failure").Inc()
		slog.Warn("worker: processing failed, left in-flight for sweeper recovery",
			"document_id", documentID, "retry", retryCount+1, "error", err)
		return
	}

	if err := w.queue.DeleteRetryCounter(ctx, documentID); err != nil {
		slog.Warn("worker: could not delete retry counter after success", "document_id", documentID, "error", err)
	}
	if err := w.queue.Acknowledge(ctx, raw); err != nil {
		slog.Error("worker: acknowledge failed after success", "document_id", documentID, "error", err)
	}
	metrics.DocumentsProcessed.WithLabelValues("success").Inc()
}

// giveUp quarantines a job that has exhausted the per-document retry
// counter: DLQ the entry, mark the document FAILED, and acknowledge so
// it cannot zombie-redeliver.
func (w *Worker) giveUp(ctx context.Context, documentID uuid.UUID, raw []byte, retryCount int) {
	reason := fmt.Sprintf("exceeded max retries (%d)", retryCount)
	if err := w.queue.MoveToDLQ(ctx, raw, reason); err != nil {
		slog.Error("worker: move to dlq failed", "document_id", documentID, "error", err)
	}

	if err := w.markFailed(ctx, documentID); err != nil {
		var invalid *apperrors.InvalidStateTransition
		if !errors.As(err, &invalid) {
			slog.Error("worker: could not mark document failed after dlq", "document_id", documentID, "error", err)
		}
	}

	if err := w.queue.Acknowledge(ctx, raw); err != nil {
		slog.Error("worker: acknowledge failed after dlq", "document_id", documentID, "error", err)
	}
	if err := w.queue.DeleteRetryCounter(ctx, documentID); err != nil {
		slog.Warn("worker: could not delete retry counter after dlq", "document_id", documentID, "error", err)
	}

	metrics.DocumentsProcessed.WithLabelValues("dlq").Inc()
	slog.Error("worker: document moved to dlq", "document_id", documentID, "retries", retryCount)
}

func (w *Worker) markFailed(ctx context.Context, documentID uuid.UUID) error {
	tx, err := w.repo.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInfraError("store", fmt.Errorf("begin mark-failed tx: %w", err))
	}
	if _, err := w.repo.UpdateStatus(ctx, tx, documentID, document.StatusFailed); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewInfraError("store", fmt.Errorf("commit mark-failed tx: %w", err))
	}
	return nil
}
