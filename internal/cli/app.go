package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imgsearch/config"
	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/memstore"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
	"imgsearch/internal/usecase"
)

// app holds the wired service and everything that must be closed with it.
type app struct {
	service *usecase.Service
	closers []func() error
}

// openApp builds the store, embedder and service from the loaded config
// and initializes the collection.
func openApp(ctx context.Context, cfg *config.Config, root string, logger *zap.Logger) (*app, error) {
	a := &app{}

	vs, err := newVectorStore(cfg, root, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, vs.Close)

	emb, err := a.newEmbedder(cfg, root, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Embedding.ProbeOnStart {
		if hc, ok := emb.(port.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("model probe failed: %w", err)
			}
		}
	}

	var queryCache *cache.QueryCache
	if cfg.Retrieve.CacheSize > 0 {
		queryCache = cache.NewQueryCache(cfg.Retrieve.CacheSize, time.Duration(cfg.Retrieve.CacheTTLSec)*time.Second)
	}

	a.service = usecase.NewService(vs, emb, queryCache, usecase.Options{
		Collection:   cfg.Store.Collection,
		DefaultTopN:  cfg.Retrieve.TopN,
		MinScore:     cfg.Retrieve.MinScore,
		Extensions:   cfg.Ingest.Extensions,
		Excludes:     cfg.Ingest.Excludes,
		Workers:      cfg.Ingest.Workers,
		BatchSize:    cfg.Ingest.BatchSize,
		OnError:      usecase.FailurePolicy(cfg.Ingest.OnError),
		SkipExisting: cfg.Ingest.SkipExisting,
	}, logger)

	if err := a.service.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func newVectorStore(cfg *config.Config, root string, logger *zap.Logger) (port.VectorStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memstore.NewMemoryStore(), nil
	case "bolt", "":
		path := config.ResolvePath(root, cfg.Store.Path)
		if err := config.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %v: %w", err, domain.ErrStore)
		}
		return store.NewBoltStore(path, store.Options{
			Timeout: cfg.Store.OpenTimeout(),
			Logger:  logger.Named("store"),
		})
	default:
		return nil, fmt.Errorf("unsupported store driver %q: %w", cfg.Store.Driver, domain.ErrConfig)
	}
}

func (a *app) newEmbedder(cfg *config.Config, root string, logger *zap.Logger) (port.Embedder, error) {
	ec := cfg.Embedding

	var emb port.Embedder
	switch ec.Provider {
	case "clip":
		emb = embedding.NewCLIPEmbedder(embedding.CLIPConfig{
			APIKey:       config.ExpandEnv(ec.APIKey),
			BaseURL:      ec.BaseURL,
			Model:        ec.Model,
			Dimension:    ec.Dimension,
			Device:       ec.Device,
			InputSize:    ec.InputSize,
			MaxPixels:    ec.MaxPixels,
			MaxTextRunes: ec.MaxTextRunes,
			Timeout:      time.Duration(ec.TimeoutSec) * time.Second,
			Logger:       logger,
		})
	case "mock":
		emb = embedding.NewMockEmbedder(ec.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q: %w", ec.Provider, domain.ErrConfig)
	}

	if !ec.CacheEnabled || ec.CacheDir == "" {
		return emb, nil
	}

	path := config.EmbeddingCachePath(config.ResolvePath(root, ec.CacheDir))
	if err := config.EnsureParentDir(path); err != nil {
		logger.Warn("Embedding cache disabled", zap.String("path", path), zap.Error(err))
		return emb, nil
	}
	cached, err := embedding.NewCachedEmbedder(emb, path, logger)
	if err != nil {
		logger.Warn("Embedding cache disabled", zap.String("path", path), zap.Error(err))
		return emb, nil
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}
