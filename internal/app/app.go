// Package app assembles the storage, provider, vector and pipeline components shared by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ragpipe/internal/cleanup"
	"ragpipe/internal/config"
	"ragpipe/internal/ingest"
	"ragpipe/internal/metrics"
	"ragpipe/internal/objectstore"
	"ragpipe/internal/providers"
	"ragpipe/internal/retrieval"
	"ragpipe/internal/storage"
	"ragpipe/internal/vector"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	DB        *storage.DB
	Documents *storage.DocumentRepo
	Chunks    *storage.ChunkRepo
	Jobs      *storage.CleanupRepo
	Queue     *cleanup.Queue
	Embedder  *providers.BatchClient
	Vectors   *vector.Writer
	Pipeline  *ingest.Pipeline
	Sweeper   *cleanup.Sweeper
	Engine    *retrieval.Engine
}

// Build connects to Postgres, optionally migrates, and wires every component. The caller
// owns Close.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AutoMigrate {
		if err := storage.Migrate(cfg.PostgresURL, logger); err != nil {
			return nil, err
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(dialCtx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a, err := build(ctx, cfg, logger, reg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, db *storage.DB) (*App, error) {
	m := metrics.New(reg)
	pm, err := providers.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	provider, ref := pm.Embedder()
	logger.Info("embedding provider selected", "provider", ref.Name, "dimension", cfg.EmbedDim)
	embedder := providers.NewBatchClient(provider, cfg.EmbedBatchSize, cfg.EmbedDim, m)

	index, err := NewVectorIndex(cfg, db)
	if err != nil {
		return nil, err
	}
	writer := vector.NewWriter(index, cfg.VectorBatchSize, logger, m)

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	docs := storage.NewDocumentRepo(db)
	jobs := storage.NewCleanupRepo(db)
	queue := cleanup.NewQueue(jobs)

	pipe := ingest.New(docs, queue, objects, embedder, writer,
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithLimits(cfg.MaxInputChars, cfg.MaxChunksPerDoc, cfg.PreviewMaxChunks),
	)
	sweeper := cleanup.NewSweeper(jobs, docs, writer,
		cleanup.WithGrace(cfg.CleanupGrace()),
		cleanup.WithRetention(cfg.CleanupRetention()),
		cleanup.WithBatch(cfg.CleanupSweepBatch),
		cleanup.WithConcurrency(cfg.CleanupConcurrency),
		cleanup.WithLogger(logger),
		cleanup.WithMetrics(m),
	)
	engine := retrieval.NewEngine(embedder, index, retrieval.NewEmbeddingReranker(embedder), cfg.RetrievalHardCap, logger, m)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		DB:        db,
		Documents: docs,
		Chunks:    storage.NewChunkRepo(db),
		Jobs:      jobs,
		Queue:     queue,
		Embedder:  embedder,
		Vectors:   writer,
		Pipeline:  pipe,
		Sweeper:   sweeper,
		Engine:    engine,
	}, nil
}

// NewVectorIndex picks the vector backend named by RAGPIPE_VECTOR_BACKEND.
func NewVectorIndex(cfg config.Config, db *storage.DB) (vector.Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "", "pgvector", "postgres":
		if db == nil || db.Pool == nil {
			return nil, fmt.Errorf("pgvector backend needs a database")
		}
		return vector.NewPGIndex(db.Pool), nil
	case "chromem":
		idx, err := vector.NewChromemIndex(cfg.ChromemPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.VectorBackend)
	}
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
