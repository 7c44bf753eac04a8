package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pixell07/docpipeline/internal/apperrors"
)

// uniqueViolationCode is Postgres's SQLSTATE for a unique-constraint
// violation; Create maps it to DuplicateSource.
const uniqueViolationCode = "23505"

// Pool is the subset of *pgxpool.Pool the repository depends on, narrowed
// to an interface so repository_test.go can substitute pgxmock's mocked
// pool in place of a real Postgres connection.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the sole arbiter of legal status transitions over the
// documents table, grounded on original_source's SQLAlchemy repository
// and the teacher's pgxpool-backed repositories (document.go, tenant.go).
type Repository struct {
	db         Pool
	maxRetries int
}

// NewRepository builds a Repository bound to the given pool and retry
// ceiling.
func NewRepository(db Pool, maxRetries int) *Repository {
	return &Repository{db: db, maxRetries: maxRetries}
}

// Querier abstracts over *pgxpool.Pool and pgx.Tx so repository methods can
// run either standalone or inside a caller-managed transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BeginTx starts a new transaction on the underlying pool.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// Create inserts a PENDING document with retry_count 0. Returns
// DuplicateSource on a unique-violation against the source column.
func (r *Repository) Create(ctx context.Context, q Querier, source string) (*Document, error) {
	doc := &Document{
		ID:     uuid.New(),
		Source: source,
		Status: StatusPending,
	}
	err := q.QueryRow(ctx,
		`INSERT INTO documents (id, source, status, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, now(), now())
		 RETURNING created_at, updated_at`,
		doc.ID, doc.Source, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, &apperrors.DuplicateSource{Source: source}
		}
		return nil, fmt.Errorf("document: create: %w", err)
	}
	return doc, nil
}

// ByID returns the document, or (nil, nil) if absent.
func (r *Repository) ByID(ctx context.Context, q Querier, id uuid.UUID) (*Document, error) {
	return scanOne(q.QueryRow(ctx,
		`SELECT id, source, status, retry_count, file_path, created_at, updated_at
		 FROM documents WHERE id = $1`, id))
}

// ByIDForUpdate reads the row with an exclusive lock held to transaction
// end. Must be called inside a transaction.
func (r *Repository) ByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Document, error) {
	return scanOne(tx.QueryRow(ctx,
		`SELECT id, source, status, retry_count, file_path, created_at, updated_at
		 FROM documents WHERE id = $1 FOR UPDATE`, id))
}

// BySource reads by the unique source key, used for idempotent replay.
func (r *Repository) BySource(ctx context.Context, q Querier, source string) (*Document, error) {
	return scanOne(q.QueryRow(ctx,
		`SELECT id, source, status, retry_count, file_path, created_at, updated_at
		 FROM documents WHERE source = $1`, source))
}

func scanOne(row pgx.Row) (*Document, error) {
	var d Document
	var filePath *string
	err := row.Scan(&d.ID, &d.Source, &d.Status, &d.RetryCount, &filePath, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("document: scan: %w", err)
	}
	d.FilePath = filePath
	return &d, nil
}

// UpdateStatus locks the row, validates the edge, and writes the new
// status. retry_count is left unchanged on every edge except the
// FAILED->PENDING retry path, which must go through RetryDocument.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, target Status) (*Document, error) {
	doc, err := r.ByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &apperrors.DocumentNotFound{ID: id.String()}
	}
	if doc.Status == StatusFailed && target == StatusPending {
		// The retry edge is taken only by RetryDocument.
		return nil, &apperrors.InvalidStateTransition{From: string(doc.Status), To: string(target)}
	}
	if err := validateTransition(doc.Status, target); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`,
		target, id,
	); err != nil {
		return nil, fmt.Errorf("document: update_status: %w", err)
	}
	doc.Status = target
	doc.UpdatedAt = time.Now()
	return doc, nil
}

// RetryDocument transitions FAILED->PENDING, incrementing retry_count.
// Fails with MaxRetriesExceeded once retry_count reaches the ceiling.
func (r *Repository) RetryDocument(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Document, error) {
	doc, err := r.ByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &apperrors.DocumentNotFound{ID: id.String()}
	}
	if doc.Status != StatusFailed {
		return nil, &apperrors.InvalidStateTransition{From: string(doc.Status), To: string(StatusPending)}
	}
	if doc.RetryCount >= r.maxRetries {
		return nil, &apperrors.MaxRetriesExceeded{ID: id.String(), RetryCount: doc.RetryCount}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = $1, retry_count = retry_count + 1, updated_at = now() WHERE id = $2`,
		StatusPending, id,
	); err != nil {
		return nil, fmt.Errorf("document: retry_document: %w", err)
	}
	doc.Status = StatusPending
	doc.RetryCount++
	return doc, nil
}

// SetFilePath is a metadata mutation with no state-machine effect.
func (r *Repository) SetFilePath(ctx context.Context, q Querier, id uuid.UUID, path string) error {
	tag, err := q.Exec(ctx,
		`UPDATE documents SET file_path = $1, updated_at = now() WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("document: set_file_path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.DocumentNotFound{ID: id.String()}
	}
	return nil
}

// ClearFilePath clears file_path after a document reaches a terminal
// state, with no state-machine effect.
func (r *Repository) ClearFilePath(ctx context.Context, q Querier, id uuid.UUID) error {
	if _, err := q.Exec(ctx,
		`UPDATE documents SET file_path = NULL, updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("document: clear_file_path: %w", err)
	}
	return nil
}
