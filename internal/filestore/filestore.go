// Package filestore persists uploaded bytes to a local directory and
// reads/deletes them back during processing. Every syscall runs off a
// bounded worker pool so the goroutine driving an HTTP request or the
// worker loop is never parked on disk I/O, mirroring
// original_source/src/services/file_store.py's asyncio.to_thread offload
// (the teacher has no file store of its own — Qdrant/Postgres only).
package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixell07/docpipeline/internal/apperrors"
)

// pool bounds concurrent blocking file operations using errgroup's
// SetLimit as a reusable semaphore: Go blocks the caller until a slot is
// free rather than spawning unbounded goroutines.
type pool struct {
	g *errgroup.Group
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 8
	}
	g := &errgroup.Group{}
	g.SetLimit(size)
	return &pool{g: g}
}

// do runs fn on the pool and blocks until it completes, so callers observe
// it as a normal synchronous call while the actual syscall runs off the
// calling goroutine.
func (p *pool) do(fn func() error) error {
	done := make(chan error, 1)
	p.g.Go(func() error {
		done <- fn()
		return nil
	})
	return <-done
}

// Store saves, reads, and deletes uploaded document content. Filenames are
// {document_id}_{original_name}, matching spec.md §5's single-writer
// invariant.
type Store struct {
	baseDir string
	pool    *pool
}

// New creates the base directory if needed and returns a Store backed by
// a worker pool of the given size.
func New(baseDir string, poolSize int) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir, pool: newPool(poolSize)}, nil
}

// Save streams r to disk under a name derived from (documentID, filename)
// and returns the absolute path. The context is accepted for API symmetry
// with the rest of the pipeline's I/O calls; the copy itself is not
// cancellable mid-write once it has been handed to the pool.
func (s *Store) Save(_ context.Context, documentID uuid.UUID, filename string, r io.Reader) (string, error) {
	path := filepath.Join(s.baseDir, fmt.Sprintf("%s_%s", documentID, filename))
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", apperrors.NewInfraError("file_io", fmt.Errorf("resolve path: %w", err))
	}

	err = s.pool.do(func() error {
		f, err := os.Create(abs)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, r)
		return err
	})
	if err != nil {
		return "", apperrors.NewInfraError("file_io", fmt.Errorf("save %s: %w", abs, err))
	}
	return abs, nil
}

// Read returns the full text content at path.
func (s *Store) Read(_ context.Context, path string) (string, error) {
	var content []byte
	err := s.pool.do(func() error {
		b, err := os.ReadFile(path)
		content = b
		return err
	})
	if err != nil {
		return "", apperrors.NewInfraError("file_io", fmt.Errorf("read %s: %w", path, err))
	}
	return string(content), nil
}

// Delete removes path, treating an already-absent file as success (the
// caller's best-effort cleanup policy, per spec.md §4.5/§7).
func (s *Store) Delete(_ context.Context, path string) error {
	err := s.pool.do(func() error {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil
		}
		return os.Remove(path)
	})
	if err != nil {
		return apperrors.NewInfraError("file_io", fmt.Errorf("delete %s: %w", path, err))
	}
	return nil
}
