// Package apperrors defines the error taxonomy shared by the ingestion
// pipeline: domain errors (client-visible, mapped to 4xx), backpressure,
// and infrastructure errors. The HTTP boundary maps every tagged error to
// a status code through StatusFor instead of switching on error strings.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// DocumentNotFound means no document exists with the given id.
type DocumentNotFound struct {
	ID string
}

func (e *DocumentNotFound) Error() string {
	return fmt.Sprintf("document %s not found", e.ID)
}

// ProcessingConflict means the document is already PROCESSING or DONE and
// cannot accept the requested operation.
type ProcessingConflict struct {
	ID     string
	Status string
}

func (e *ProcessingConflict) Error() string {
	return fmt.Sprintf("document %s is already %s and cannot be re-processed", e.ID, e.Status)
}

// InvalidStateTransition means the requested status edge is not legal.
type InvalidStateTransition struct {
	From, To string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("cannot transition document from %s to %s", e.From, e.To)
}

// DuplicateSource means the unique source constraint was violated. It is
// resolved internally via idempotent replay and should never reach the
// HTTP boundary.
type DuplicateSource struct {
	Source string
}

func (e *DuplicateSource) Error() string {
	return fmt.Sprintf("document with source %q already exists", e.Source)
}

// MaxRetriesExceeded means retry_count has reached MAX_RETRIES; the
// document goes to the dead-letter queue instead of being retried.
type MaxRetriesExceeded struct {
	ID         string
	RetryCount int
}

func (e *MaxRetriesExceeded) Error() string {
	return fmt.Sprintf("document %s has exceeded max retries (%d)", e.ID, e.RetryCount)
}

// QueueFull is the backpressure signal surfaced as HTTP 429.
type QueueFull struct {
	Current, Limit int64
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("queue is full (%d/%d), retry later", e.Current, e.Limit)
}

// InfraError wraps an infrastructure failure (broker, store, vector index,
// embedder, file I/O) that the caller cannot fix by changing its request.
type InfraError struct {
	Component string
	Err       error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// NewInfraError builds an InfraError tagged with the failing component
// ("broker", "store", "vector_index", "embedder", "file_io"), used at
// call sites that need §7's taxonomy without a bespoke type per component.
func NewInfraError(component string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Component: component, Err: err}
}

// StatusFor maps an error to the HTTP status code the boundary should
// return, per spec.md §7's taxonomy. Unmapped errors are treated as
// unexpected and map to 500.
func StatusFor(err error) int {
	var (
		notFound  *DocumentNotFound
		conflict  *ProcessingConflict
		invalid   *InvalidStateTransition
		dup       *DuplicateSource
		maxRetry  *MaxRetriesExceeded
		queueFull *QueueFull
		infra     *InfraError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusConflict
	case errors.As(err, &dup):
		// Never surfaced; callers resolve via idempotent replay.
		return http.StatusOK
	case errors.As(err, &maxRetry):
		return http.StatusConflict
	case errors.As(err, &queueFull):
		return http.StatusTooManyRequests
	case errors.As(err, &infra):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
