package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/enrich"
	"github.com/keystone-supply/catalog-etl/internal/lineage"
	"github.com/keystone-supply/catalog-etl/internal/load"
	"github.com/keystone-supply/catalog-etl/internal/pipeline"
	"github.com/keystone-supply/catalog-etl/internal/store"
	"github.com/keystone-supply/catalog-etl/internal/transform"
	"github.com/keystone-supply/catalog-etl/pkg/ahri"
	"github.com/keystone-supply/catalog-etl/pkg/anthropic"
	"github.com/keystone-supply/catalog-etl/pkg/docling"
)

// pipelineEnv bundles a wired pipeline with the resources it owns.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases the store. Safe to call on a partially initialized env.
func (e *pipelineEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close", zap.Error(err))
		}
	}
}

// initStore opens the configured job store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PoolConfig{})
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		st = s
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline wires the full processing pipeline from configuration: job
// store, transformation engine, table structure engine, and, when enabled,
// AHRI enrichment and the warehouse loader.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	recorder := lineage.NewStoreRecorder(st)

	client := anthropic.NewClient(cfg.Anthropic.Key)
	transformer := transform.New(client, cfg.Transform, cfg.Anthropic.Model, cfg.Anthropic.RequestsPerMinute,
		transform.WithRecorder(recorder))

	var doclingOpts []docling.Option
	if cfg.Docling.TimeoutSecs > 0 {
		doclingOpts = append(doclingOpts, docling.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Docling.TimeoutSecs) * time.Second,
		}))
	}
	engine := docling.NewClient(cfg.Docling.BaseURL, doclingOpts...)

	opts := []pipeline.Option{pipeline.WithRecorder(recorder)}

	if cfg.Enrich.Enabled {
		ahriOpts := []ahri.Option{
			ahri.WithCacheDir(cfg.AHRI.CacheDir),
			ahri.WithDownloadDir(cfg.AHRI.DownloadDir),
			ahri.WithHeadless(cfg.AHRI.Headless),
		}
		if cfg.AHRI.BaseURL != "" {
			ahriOpts = append(ahriOpts, ahri.WithBaseURL(cfg.AHRI.BaseURL))
		}
		if cfg.AHRI.TimeoutSecs > 0 {
			ahriOpts = append(ahriOpts, ahri.WithTimeout(time.Duration(cfg.AHRI.TimeoutSecs)*time.Second))
		}
		registry, err := ahri.NewClient(ahriOpts...)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init ahri client")
		}
		opts = append(opts, pipeline.WithEnricher(enrich.New(registry, cfg.Enrich.SimilarityThreshold)))
	}

	// The warehouse loader shares the postgres store's pool. With the
	// sqlite driver there is no warehouse; the silver artifact is the
	// final output and stage 3 only marks the job complete.
	if pg, ok := st.(*store.PostgresStore); ok {
		loader := load.NewPostgresLoader(pg.Pool())
		if err := loader.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate warehouse")
		}
		opts = append(opts, pipeline.WithLoader(loader))
	}

	p := pipeline.New(cfg, st, engine, transformer, opts...)
	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
