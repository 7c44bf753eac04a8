// Package document owns the Document aggregate and is the sole arbiter of
// legal status transitions (spec.md §4.2). Grounded on the teacher's
// internal/document package, generalized from a flat ingest-and-embed
// service into the PENDING/PROCESSING/DONE/FAILED state machine the
// ingestion pipeline requires under row-level locking.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the four legal document lifecycle states.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Document is the persisted aggregate described in spec.md §3.
type Document struct {
	ID         uuid.UUID
	Source     string
	Status     Status
	RetryCount int
	FilePath   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
