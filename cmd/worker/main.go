// Package main provides the worker process entry point: it dequeues
// documents, runs them through the processing pipeline, and sweeps stale
// in-flight entries back onto the queue. Grounded on
// original_source/src/workers/document_worker.py's entry point and on
// the metrics-endpoint pattern of
// other_examples/8dcbc21c_fairyhunter13-ai-cv-evaluator__cmd-worker-main.go.go.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pixell07/docpipeline/internal/chunking"
	"github.com/pixell07/docpipeline/internal/config"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/lifecycle"
	"github.com/pixell07/docpipeline/internal/process"
	"github.com/pixell07/docpipeline/internal/queue"
	"github.com/pixell07/docpipeline/internal/sweeper"
	"github.com/pixell07/docpipeline/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := lifecycle.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to init resources", "error", err)
		os.Exit(1)
	}
	defer res.Close()

	if err := res.Migrate(ctx); err != nil {
		slog.Error("failed to prepare vector index", "error", err)
		os.Exit(1)
	}

	docRepo := document.NewRepository(res.DB, cfg.MaxRetries)
	q := queue.New(res.Redis)
	chunker := chunking.New(cfg.ChunkSize, cfg.ChunkOverlap)

	processor := process.New(docRepo, res.Files, chunker, res.Embedder, res.Index)
	w := worker.New(q, docRepo, processor, res.Index, cfg.MaxRetries)
	sw := sweeper.New(q, cfg.VisibilityTimeout, cfg.MaxRetries, cfg.SweepInterval)

	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		slog.Info("metrics server starting", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker starting")
		return w.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("sweeper starting", "interval", cfg.SweepInterval, "visibility_timeout", cfg.VisibilityTimeout)
		return sw.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker process exited with error", "error", err)
		_ = metricsSrv.Shutdown(context.Background())
		os.Exit(1)
	}

	_ = metricsSrv.Shutdown(context.Background())
	slog.Info("worker stopped")
}
