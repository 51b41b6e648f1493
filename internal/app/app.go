// Package app wires the change log, vector index, coordinator and retriever
// into one explicitly owned context object. Nothing here is process global.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/LEE-hyeon0771/AI-change-app/internal/changelog"
	"github.com/LEE-hyeon0771/AI-change-app/internal/config"
	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding"
	"github.com/LEE-hyeon0771/AI-change-app/internal/ingest"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
	"github.com/LEE-hyeon0771/AI-change-app/internal/retrieve"
	"github.com/LEE-hyeon0771/AI-change-app/internal/vecindex"
)

// App owns every stateful component. Open one per process.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	embedder  embedding.Embedder
	log       *changelog.Log
	index     *vecindex.Index
	coord     *ingest.Coordinator
	retriever *retrieve.Retriever
}

// Options overrides pieces of the wiring, mainly for tests.
type Options struct {
	Logger   *slog.Logger
	Embedder embedding.Embedder
}

// Open builds an App from cfg. It does not touch the vector index; that
// happens lazily on the first operation that needs it.
func Open(cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	emb := opts.Embedder
	if emb == nil {
		var err error
		emb, err = embedding.New(cfg.EmbedderConfig())
		if err != nil {
			return nil, err
		}
	}

	log, err := changelog.Open(cfg.ChangeLog, logger)
	if err != nil {
		return nil, err
	}

	idxOpts := vecindex.Options{Logger: logger}
	if cfg.Index.RebuildOnBootstrap {
		idxOpts.Seed = log.All
	}
	index := vecindex.Open(cfg.IndexDir, emb, idxOpts)

	return &App{
		cfg:       cfg,
		logger:    logger,
		embedder:  emb,
		log:       log,
		index:     index,
		coord:     ingest.New(index, log, ingest.Options{Logger: logger}),
		retriever: retrieve.New(index),
	}, nil
}

// Close releases the index.
func (a *App) Close() error {
	return a.index.Close()
}

// Ingest records one design change.
func (a *App) Ingest(ctx context.Context, in model.DesignChangeInput) (model.DesignChangeRecord, error) {
	return a.coord.Ingest(ctx, in)
}

// Import ingests JSON Lines inputs from r.
func (a *App) Import(ctx context.Context, r io.Reader) (ingest.ImportReport, error) {
	return a.coord.Import(ctx, r)
}

// Latest returns the most recent change or nil.
func (a *App) Latest() (*model.DesignChangeRecord, error) {
	return a.coord.Latest()
}

// LatestSummary is the polling view of Latest.
func (a *App) LatestSummary() (*model.LatestChangeSummary, error) {
	rec, err := a.coord.Latest()
	if err != nil || rec == nil {
		return nil, err
	}
	sum := rec.Summary()
	return &sum, nil
}

// Retrieve returns the k records nearest to question. k <= 0 uses the
// configured default.
func (a *App) Retrieve(ctx context.Context, question string, k int) ([]model.ScoredChange, error) {
	if k <= 0 {
		k = a.cfg.Retrieval.TopK
	}
	return a.retriever.Retrieve(ctx, question, k)
}

// List returns up to limit records from the end of the log, oldest first.
// limit <= 0 returns everything.
func (a *App) List(limit int) ([]model.DesignChangeRecord, error) {
	var out []model.DesignChangeRecord
	for rec, err := range a.log.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	if out == nil {
		out = []model.DesignChangeRecord{}
	}
	return out, nil
}

// Reindex rebuilds the vector index from the change log.
func (a *App) Reindex(ctx context.Context) (int, error) {
	return a.coord.Reindex(ctx)
}
