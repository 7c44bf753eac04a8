package document

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/docpipeline/internal/apperrors"
)

// newMockRepo builds a Repository against pgxmock's mocked pool, the same
// expectation-driven approach internal/queue's tests take against
// miniredis for Redis: exercise the real SQL-facing code, not a
// hand-written in-memory fake standing in for the whole package.
func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewRepository(mock, 3), mock
}

func documentRows(id uuid.UUID, source string, status Status, retryCount int, filePath *string, ts time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "source", "status", "retry_count", "file_path", "created_at", "updated_at"}).
		AddRow(id, source, status, retryCount, filePath, ts, ts)
}

func TestCreate_InsertsPendingDocumentWithZeroRetryCount(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(pgxmock.AnyArg(), "source-a", StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	doc, err := repo.Create(ctx, mock, "source-a")
	require.NoError(t, err)
	assert.Equal(t, "source-a", doc.Source)
	assert.Equal(t, StatusPending, doc.Status)
	assert.Equal(t, 0, doc.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolationReturnsDuplicateSource(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(pgxmock.AnyArg(), "source-a", StatusPending).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "uq_documents_source"})

	_, err := repo.Create(ctx, mock, "source-a")
	require.Error(t, err)
	var dup *apperrors.DuplicateSource
	assert.ErrorAs(t, err, &dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestByIDForUpdate_LocksRowWithForUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusPending, 0, nil, time.Now()))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	doc, err := repo.ByIDForUpdate(ctx, tx, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, StatusPending, doc.Status)

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryDocument_IncrementsRetryCountOnFailedDocument(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusFailed, 1, nil, time.Now()))
	mock.ExpectExec("UPDATE documents SET status").WithArgs(StatusPending, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	doc, err := repo.RetryDocument(ctx, tx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, doc.Status)
	assert.Equal(t, 2, doc.RetryCount)

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryDocument_AtCeilingReturnsMaxRetriesExceededWithoutWriting(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusFailed, 3, nil, time.Now()))
	mock.ExpectRollback()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.RetryDocument(ctx, tx, id)
	require.Error(t, err)
	var exceeded *apperrors.MaxRetriesExceeded
	assert.ErrorAs(t, err, &exceeded)

	require.NoError(t, tx.Rollback(ctx))
	// No ExpectExec was registered: a ceiling hit must not attempt any
	// write, and ExpectationsWereMet would fail if RetryDocument issued
	// one anyway.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryDocument_NonFailedDocumentRejected(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusPending, 0, nil, time.Now()))
	mock.ExpectRollback()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.RetryDocument(ctx, tx, id)
	require.Error(t, err)
	var invalid *apperrors.InvalidStateTransition
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_RejectsIllegalEdgeWithoutWriting(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusDone, 0, nil, time.Now()))
	mock.ExpectRollback()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.UpdateStatus(ctx, tx, id, StatusProcessing)
	require.Error(t, err)
	var invalid *apperrors.InvalidStateTransition
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_LegalEdgeWrites(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(documentRows(id, "source-a", StatusPending, 0, nil, time.Now()))
	mock.ExpectExec("UPDATE documents SET status").WithArgs(StatusProcessing, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	doc, err := repo.UpdateStatus(ctx, tx, id, StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
