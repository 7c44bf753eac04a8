package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixell07/docpipeline/internal/api"
	"github.com/pixell07/docpipeline/internal/auth"
	"github.com/pixell07/docpipeline/internal/config"
	"github.com/pixell07/docpipeline/internal/document"
	"github.com/pixell07/docpipeline/internal/ingest"
	"github.com/pixell07/docpipeline/internal/lifecycle"
	"github.com/pixell07/docpipeline/internal/queue"
	"github.com/pixell07/docpipeline/internal/search"
	"github.com/pixell07/docpipeline/internal/upload"
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

	ctx := context.Background()

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

	if statuses := res.CheckReady(ctx); statuses["database"] != nil || statuses["redis"] != nil {
		slog.Error("dependencies not ready at startup", "database", statuses["database"], "redis", statuses["redis"])
		os.Exit(1)
	}
	slog.Info("dependencies ready")

	docRepo := document.NewRepository(res.DB, cfg.MaxRetries)
	q := queue.New(res.Redis)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)

	ingestSvc := ingest.New(docRepo, q, cfg.QueueMaxLength)
	uploadSvc := upload.New(docRepo, q, res.Files, cfg.QueueMaxLength)
	searchSvc := search.New(res.Embedder, res.Index, res.LLM)

	router := api.NewRouter(api.RouterDeps{
		IngestService: ingestSvc,
		UploadService: uploadSvc,
		SearchService: searchSvc,
		Resources:     res,
		JWTManager:    jwtManager,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
