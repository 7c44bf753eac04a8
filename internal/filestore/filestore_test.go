package filestore

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveReadDeleteRoundtrip(t *testing.T) {
	store, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	docID := uuid.New()
	path, err := store.Save(context.Background(), docID, "report.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Contains(t, path, docID.String())

	content, err := store.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)

	require.NoError(t, store.Delete(context.Background(), path))

	_, err = store.Read(context.Background(), path)
	assert.Error(t, err)
}

func TestStore_DeleteMissingFileIsNotAnError(t *testing.T) {
	store, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "/nonexistent/path.txt"))
}
