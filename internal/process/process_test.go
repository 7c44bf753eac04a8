package process

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/docpipeline/internal/apperrors"
	"github.com/pixell07/docpipeline/internal/chunking"
	"github.com/pixell07/docpipeline/internal/document"
)

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeRepo struct {
	docs        map[uuid.UUID]*document.Document
	clearCalled int
}

func newFakeRepo(docs ...*document.Document) *fakeRepo {
	r := &fakeRepo{docs: make(map[uuid.UUID]*document.Document)}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeRepo) BeginTx(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (r *fakeRepo) ByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*document.Document, error) {
	return r.docs[id], nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, target document.Status) (*document.Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, &apperrors.DocumentNotFound{ID: id.String()}
	}
	doc.Status = target
	return doc, nil
}

func (r *fakeRepo) RetryDocument(_ context.Context, _ pgx.Tx, id uuid.UUID) (*document.Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, &apperrors.DocumentNotFound{ID: id.String()}
	}
	if doc.Status != document.StatusFailed {
		return nil, &apperrors.InvalidStateTransition{From: string(doc.Status), To: string(document.StatusPending)}
	}
	if doc.RetryCount >= 3 {
		return nil, &apperrors.MaxRetriesExceeded{ID: id.String(), RetryCount: doc.RetryCount}
	}
	doc.Status = document.StatusPending
	doc.RetryCount++
	return doc, nil
}

func (r *fakeRepo) ClearFilePath(_ context.Context, _ document.Querier, id uuid.UUID) error {
	r.clearCalled++
	if doc, ok := r.docs[id]; ok {
		doc.FilePath = nil
	}
	return nil
}

type fakeFileStore struct {
	content   string
	readErr   error
	deleted   []string
}

func (f *fakeFileStore) Read(context.Context, string) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.content, nil
}

func (f *fakeFileStore) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

// fakeChunker splits on whitespace, one word per chunk, so tests can
// control chunk counts across successive runs by varying content length.
type fakeChunker struct{}

func (fakeChunker) Split(text string) ([]chunking.Chunk, error) {
	if text == "" {
		return nil, nil
	}
	words := strings.Fields(text)
	chunks := make([]chunking.Chunk, len(words))
	for i, w := range words {
		chunks[i] = chunking.Chunk{Index: i, Content: w}
	}
	return chunks, nil
}

type fakeEmbedder struct {
	embedErr error
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

// fakeIndex mimics PGVectorIndex's per-document chunk storage closely
// enough to catch orphaned rows: Upsert keys by (documentID, chunkIndex)
// same as the real point-id derivation, and DeleteByDocument clears the
// whole per-document set.
type fakeIndex struct {
	upserted int
	chunks   map[uuid.UUID]map[int]string
	deleted  []uuid.UUID
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: make(map[uuid.UUID]map[int]string)}
}

func (i *fakeIndex) Upsert(_ context.Context, documentID uuid.UUID, chunkIndex int, content string, _ []float32) error {
	i.upserted++
	if i.chunks[documentID] == nil {
		i.chunks[documentID] = make(map[int]string)
	}
	i.chunks[documentID][chunkIndex] = content
	return nil
}

func (i *fakeIndex) DeleteByDocument(_ context.Context, documentID uuid.UUID) error {
	i.deleted = append(i.deleted, documentID)
	delete(i.chunks, documentID)
	return nil
}

func TestProcess_HappyPathEmbedsChunksAndFinalizesDone(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusPending, FilePath: strPtr("/data/doc.txt")}
	repo := newFakeRepo(doc)
	files := &fakeFileStore{content: "hello world"}
	index := newFakeIndex()
	p := New(repo, files, fakeChunker{}, &fakeEmbedder{}, index)

	err := p.Process(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusDone, doc.Status)
	assert.Nil(t, doc.FilePath)
	assert.Equal(t, 2, index.upserted)
	assert.Len(t, files.deleted, 1)
}

func TestProcess_AlreadyDoneReturnsConflict(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusDone}
	repo := newFakeRepo(doc)
	p := New(repo, &fakeFileStore{}, fakeChunker{}, &fakeEmbedder{}, newFakeIndex())

	err := p.Process(context.Background(), doc.ID)
	require.Error(t, err)
	var conflict *apperrors.ProcessingConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestProcess_EmbedderFailureMarksDocumentFailed(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusPending, FilePath: strPtr("/data/doc.txt")}
	repo := newFakeRepo(doc)
	files := &fakeFileStore{content: "hello world"}
	p := New(repo, files, fakeChunker{}, &fakeEmbedder{embedErr: errors.New("boom")}, newFakeIndex())

	err := p.Process(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Len(t, files.deleted, 1, "failure path must still attempt best-effort cleanup")
}

func TestProcess_RedeliveredFailedDocumentRetriesThenProcesses(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusFailed, RetryCount: 1, FilePath: strPtr("/data/doc.txt")}
	repo := newFakeRepo(doc)
	files := &fakeFileStore{content: "hello world"}
	p := New(repo, files, fakeChunker{}, &fakeEmbedder{}, newFakeIndex())

	err := p.Process(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusDone, doc.Status)
	assert.Equal(t, 2, doc.RetryCount, "claim must route FAILED through retry_document before PROCESSING")
}

func TestProcess_RedeliveredFailedDocumentAtMaxRetriesFails(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusFailed, RetryCount: 3}
	repo := newFakeRepo(doc)
	p := New(repo, &fakeFileStore{}, fakeChunker{}, &fakeEmbedder{}, newFakeIndex())

	err := p.Process(context.Background(), doc.ID)
	require.Error(t, err)
	var exceeded *apperrors.MaxRetriesExceeded
	assert.ErrorAs(t, err, &exceeded)
	assert.Equal(t, document.StatusFailed, doc.Status, "status must remain FAILED, not dangle in PROCESSING")
}

func TestProcess_RetryWithFewerChunksDoesNotOrphanOldVectors(t *testing.T) {
	doc := &document.Document{ID: uuid.New(), Status: document.StatusPending, FilePath: strPtr("/data/doc.txt")}
	filePath := doc.FilePath
	repo := newFakeRepo(doc)
	files := &fakeFileStore{content: "four words right here"}
	index := newFakeIndex()
	p := New(repo, files, fakeChunker{}, &fakeEmbedder{}, index)

	require.NoError(t, p.Process(context.Background(), doc.ID))
	require.Len(t, index.chunks[doc.ID], 4, "first attempt should index all four chunks")

	// A second attempt on the same document, now with shorter content
	// (e.g. the retried upload was truncated). Re-run run() directly since
	// what's under test is its delete-before-upsert behavior, not claim's
	// status-transition guard.
	files.content = "two words"
	require.NoError(t, p.run(context.Background(), doc.ID, filePath))

	assert.Len(t, index.chunks[doc.ID], 2, "stale chunks from the longer first attempt must not survive a shorter retry")
	assert.Contains(t, index.deleted, doc.ID)
}

func TestProcess_MissingDocumentReturnsNotFound(t *testing.T) {
	repo := newFakeRepo()
	p := New(repo, &fakeFileStore{}, fakeChunker{}, &fakeEmbedder{}, newFakeIndex())

	err := p.Process(context.Background(), uuid.New())
	require.Error(t, err)
	var notFound *apperrors.DocumentNotFound
	assert.ErrorAs(t, err, &notFound)
}

func strPtr(s string) *string { return &s }
