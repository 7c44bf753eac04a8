// Package lifecycle builds and tears down the process-wide resources
// shared by cmd/server and cmd/worker: the Postgres pool, Redis client,
// file store, and the pluggable embedding/LLM/vector-index services.
// Grounded on original_source/src/infra/lifecycle/app.py and
// dependencies.py, which centralize the same startup/shutdown sequence
// behind a single object rather than scattering it across main().
package lifecycle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pixell07/docpipeline/internal/config"
	"github.com/pixell07/docpipeline/internal/embedding"
	"github.com/pixell07/docpipeline/internal/filestore"
	"github.com/pixell07/docpipeline/internal/llmclient"
	"github.com/pixell07/docpipeline/internal/vectorindex"
)

// Resources bundles every shared dependency built from config.Settings.
// The vector index is always the real pgvector-backed implementation:
// unlike the embedder/LLM, it has no external-API cost to mock away, and
// process/search both need it to actually round-trip data between the
// two.
type Resources struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Files    *filestore.Store
	Embedder embedding.Embedder
	LLM      llmclient.Client
	Index    vectorindex.Index
}

// New connects to Postgres and Redis, builds the file store, and selects
// real or mock embedding/LLM services per cfg.UseMockServices.
func New(ctx context.Context, cfg config.Settings) (*Resources, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBPoolSize)

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: connect postgres: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lifecycle: parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	files, err := filestore.New(cfg.UploadDir, cfg.DBPoolSize)
	if err != nil {
		db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("lifecycle: init file store: %w", err)
	}

	var embedder embedding.Embedder
	var llm llmclient.Client
	if cfg.UseMockServices {
		embedder = embedding.NewMock(cfg.EmbeddingDimension)
		llm = llmclient.NewMock()
	} else {
		real, err := embedding.New(cfg.OpenAIAPIKey)
		if err != nil {
			db.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("lifecycle: init embedder: %w", err)
		}
		embedder = real
		llm = llmclient.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel)
	}

	index := vectorindex.New(db)

	return &Resources{
		DB:       db,
		Redis:    rdb,
		Files:    files,
		Embedder: embedder,
		LLM:      llm,
		Index:    index,
	}, nil
}

// Migrate ensures the vector index's schema exists. Table/index creation
// for the documents table itself lives in migrations/, applied separately;
// this only covers the pgvector extension and document_chunks table since
// EnsureCollection is idempotent and safe to call from process start.
func (r *Resources) Migrate(ctx context.Context) error {
	return r.Index.EnsureCollection(ctx)
}

// CheckReady pings Postgres ("database") and Redis ("redis") for the
// readiness endpoint (spec.md §6 GET /health/ready), returning one error
// (nil when healthy) per component so the handler can report exactly
// which dependency failed. The embedder, LLM and vector index are not
// probed.
func (r *Resources) CheckReady(ctx context.Context) map[string]error {
	statuses := make(map[string]error, 2)
	statuses["database"] = r.DB.Ping(ctx)
	statuses["redis"] = r.Redis.Ping(ctx).Err()
	return statuses
}

// Close releases resources in reverse acquisition order.
func (r *Resources) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.DB != nil {
		r.DB.Close()
	}
}
