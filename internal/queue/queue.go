// Package queue implements DocumentQueue, the broker-backed job queue of
// spec.md §4.1: three Redis lists (main, processing, dead-letter) offering
// at-least-once delivery via BRPOPLPUSH, with a visibility-timeout sweep
// for stale in-flight entries. Grounded on
// original_source/src/infra/queue/document_queue.py, translated onto
// github.com/redis/go-redis/v9 (the pack's broker client, per
// jordigilh-kubernaut's go.mod).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixell07/docpipeline/internal/apperrors"
)

// The three well-known broker keys from spec.md §6.
const (
	MainQueue       = "document_ingestion_queue"
	ProcessingQueue = "document_processing_queue"
	DeadLetterQueue = "document_dead_letter_queue"

	retryKeyPrefix = "retry:"
)

// Entry is the JSON-encoded payload carried on MainQueue/ProcessingQueue.
type Entry struct {
	DocumentID string     `json:"document_id"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`
}

// DLQEntry quarantines a poisoned or exhausted job.
type DLQEntry struct {
	Payload   string  `json:"payload"`
	Reason    string  `json:"reason"`
	Timestamp float64 `json:"timestamp"`
}

// StaleSweepResult reports the outcome of one RequeueStale pass.
type StaleSweepResult struct {
	Requeued   int
	MovedToDLQ int
	Skipped    int
}

// Queue is the durable FIFO job queue described in spec.md §4.1.
type Queue struct {
	rdb *redis.Client
}

// New wraps an existing go-redis client. The client's connection lifecycle
// (creation, pooling, shutdown) is owned by internal/lifecycle.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes a fresh entry onto the left end of MainQueue. Dequeue
// takes entries from the right end, so MainQueue is consumed oldest-first.
func (q *Queue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	payload, err := json.Marshal(Entry{DocumentID: documentID.String()})
	if err != nil {
		return fmt.Errorf("queue: marshal entry: %w", err)
	}
	if err := q.rdb.LPush(ctx, MainQueue, payload).Err(); err != nil {
		return apperrors.NewInfraError("broker", fmt.Errorf("enqueue: %w", err))
	}
	return nil
}

// Dequeue atomically moves the oldest entry of MainQueue (its right end)
// to the left end of ProcessingQueue with a bounded blocking wait, then
// enriches the entry with started_at. Returns (uuid.Nil, nil, nil) on an
// empty queue (broker timeout, not an error). Malformed entries are moved
// to the DLQ and the
// empty tuple is returned.
func (q *Queue) Dequeue(ctx context.Context) (documentID uuid.UUID, raw []byte, err error) {
	result, err := q.rdb.BRPopLPush(ctx, MainQueue, ProcessingQueue, 2*time.Second).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil, nil
	}
	if err != nil {
		return uuid.Nil, nil, apperrors.NewInfraError("broker", fmt.Errorf("dequeue: %w", err))
	}

	rawBytes := []byte(result)
	var incoming Entry
	if jsonErr := json.Unmarshal(rawBytes, &incoming); jsonErr != nil {
		q.quarantine(ctx, rawBytes, fmt.Sprintf("parse error: %v", jsonErr))
		return uuid.Nil, nil, nil
	}
	docID, parseErr := uuid.Parse(incoming.DocumentID)
	if parseErr != nil {
		q.quarantine(ctx, rawBytes, fmt.Sprintf("parse error: invalid document_id: %v", parseErr))
		return uuid.Nil, nil, nil
	}

	if incoming.StartedAt != nil {
		// Already enriched (e.g. redelivered without a full round-trip
		// through requeue); nothing further to do.
		return docID, rawBytes, nil
	}

	now := time.Now().UTC()
	enriched := Entry{DocumentID: incoming.DocumentID, StartedAt: &now, RetryCount: incoming.RetryCount}
	enrichedPayload, marshalErr := json.Marshal(enriched)
	if marshalErr != nil {
		return uuid.Nil, nil, fmt.Errorf("queue: marshal enriched entry: %w", marshalErr)
	}

	// Not atomic end-to-end: the sweeper treats timestamp-less entries as
	// mid-enrichment so this window never produces a premature requeue.
	if remErr := q.rdb.LRem(ctx, ProcessingQueue, 1, rawBytes).Err(); remErr != nil {
		return uuid.Nil, nil, apperrors.NewInfraError("broker", fmt.Errorf("dequeue enrich lrem: %w", remErr))
	}
	if pushErr := q.rdb.LPush(ctx, ProcessingQueue, enrichedPayload).Err(); pushErr != nil {
		return uuid.Nil, nil, apperrors.NewInfraError("broker", fmt.Errorf("dequeue enrich lpush: %w", pushErr))
	}

	return docID, enrichedPayload, nil
}

// Acknowledge removes one occurrence of raw from ProcessingQueue by exact
// byte match. A miss is logged, not failed: the caller may be
// acknowledging a job the sweeper already requeued.
func (q *Queue) Acknowledge(ctx context.Context, raw []byte) error {
	removed, err := q.rdb.LRem(ctx, ProcessingQueue, 1, raw).Result()
	if err != nil {
		return apperrors.NewInfraError("broker", fmt.Errorf("acknowledge: %w", err))
	}
	if removed == 0 {
		slog.Warn("queue: job not found in processing queue during ack", "raw", truncate(raw, 100))
	}
	return nil
}

// MoveToDLQ appends a DLQEntry to DeadLetterQueue. Never fails on
// encoding; falls back to a stringified form.
func (q *Queue) MoveToDLQ(ctx context.Context, raw []byte, reason string) error {
	q.quarantine(ctx, raw, reason)
	return nil
}

func (q *Queue) quarantine(ctx context.Context, raw []byte, reason string) {
	entry := DLQEntry{
		Payload:   string(raw),
		Reason:    reason,
		Timestamp: float64(time.Now().UTC().UnixNano()) / 1e9,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"payload":%q,"reason":%q}`, string(raw), reason))
	}
	if err := q.rdb.RPush(ctx, DeadLetterQueue, payload).Err(); err != nil {
		slog.Error("queue: failed to push to DLQ", "error", err, "reason", reason)
		return
	}
	slog.Error("queue: moved to DLQ", "reason", reason, "payload", truncate(raw, 100))
}

// Length reports the current size of one of the three lists, used for
// backpressure and observability.
func (q *Queue) Length(ctx context.Context, list string) (int64, error) {
	n, err := q.rdb.LLen(ctx, list).Result()
	if err != nil {
		return 0, apperrors.NewInfraError("broker", fmt.Errorf("length(%s): %w", list, err))
	}
	return n, nil
}

// RetryCounter returns the current per-document consecutive-failure
// counter tracked at key retry:{id}. This is the authority the worker
// uses for "give up and DLQ" accounting (spec.md §9 Open Question,
// resolved: per-document counter for the worker, per-entry retry_count
// for the sweeper — see DESIGN.md).
func (q *Queue) RetryCounter(ctx context.Context, documentID uuid.UUID) (int, error) {
	n, err := q.rdb.Get(ctx, retryKey(documentID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.NewInfraError("broker", fmt.Errorf("retry_counter: %w", err))
	}
	return n, nil
}

// IncrRetryCounter increments the per-document counter.
func (q *Queue) IncrRetryCounter(ctx context.Context, documentID uuid.UUID) error {
	if err := q.rdb.Incr(ctx, retryKey(documentID)).Err(); err != nil {
		return apperrors.NewInfraError("broker", fmt.Errorf("incr_retry_counter: %w", err))
	}
	return nil
}

// DeleteRetryCounter clears the per-document counter after a successful
// process or a DLQ transition.
func (q *Queue) DeleteRetryCounter(ctx context.Context, documentID uuid.UUID) error {
	if err := q.rdb.Del(ctx, retryKey(documentID)).Err(); err != nil {
		return apperrors.NewInfraError("broker", fmt.Errorf("delete_retry_counter: %w", err))
	}
	return nil
}

func retryKey(documentID uuid.UUID) string {
	return retryKeyPrefix + documentID.String()
}

// RequeueStale scans ProcessingQueue for entries whose visibility timeout
// has expired and either requeues them (incrementing retry_count) or
// moves them to the DLQ once maxRetries is reached. Entries without
// started_at are skipped: they are mid-enrichment, not stale.
func (q *Queue) RequeueStale(ctx context.Context, maxAge time.Duration, maxRetries int) (StaleSweepResult, error) {
	items, err := q.rdb.LRange(ctx, ProcessingQueue, 0, -1).Result()
	if err != nil {
		return StaleSweepResult{}, apperrors.NewInfraError("broker", fmt.Errorf("requeue_stale lrange: %w", err))
	}

	var result StaleSweepResult
	now := time.Now().UTC()

	for _, item := range items {
		raw := []byte(item)
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			q.rdb.LRem(ctx, ProcessingQueue, 1, raw)
			q.quarantine(ctx, raw, fmt.Sprintf("malformed in processing queue: %v", err))
			result.MovedToDLQ++
			continue
		}

		if entry.StartedAt == nil {
			result.Skipped++
			continue
		}

		age := now.Sub(*entry.StartedAt)
		if age < maxAge {
			result.Skipped++
			continue
		}

		removed, err := q.rdb.LRem(ctx, ProcessingQueue, 1, raw).Result()
		if err != nil {
			return result, apperrors.NewInfraError("broker", fmt.Errorf("requeue_stale lrem: %w", err))
		}
		if removed == 0 {
			// Already taken by another sweeper or acknowledged since the scan.
			result.Skipped++
			continue
		}

		if entry.RetryCount >= maxRetries {
			q.quarantine(ctx, raw, fmt.Sprintf("exceeded %d retries after %s", maxRetries, age.Round(time.Second)))
			result.MovedToDLQ++
			continue
		}

		requeued := Entry{DocumentID: entry.DocumentID, RetryCount: entry.RetryCount + 1}
		payload, err := json.Marshal(requeued)
		if err != nil {
			return result, fmt.Errorf("queue: marshal requeue entry: %w", err)
		}
		if err := q.rdb.LPush(ctx, MainQueue, payload).Err(); err != nil {
			return result, apperrors.NewInfraError("broker", fmt.Errorf("requeue_stale lpush: %w", err))
		}
		result.Requeued++
		slog.Info("queue: requeued stale job",
			"document_id", entry.DocumentID, "retry", requeued.RetryCount, "age", age.Round(time.Second))
	}

	if result.Requeued > 0 || result.MovedToDLQ > 0 {
		slog.Info("queue: stale job sweep",
			"requeued", result.Requeued, "moved_to_dlq", result.MovedToDLQ, "skipped", result.Skipped)
	}

	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
