package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kolscope/kolscope/internal/ai"
	"github.com/kolscope/kolscope/internal/analyzer"
	"github.com/kolscope/kolscope/internal/blobstore"
	"github.com/kolscope/kolscope/internal/cache"
	"github.com/kolscope/kolscope/internal/config"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/normalize"
	"github.com/kolscope/kolscope/internal/ratelimit"
	"github.com/kolscope/kolscope/internal/reportcache"
)

// buildStore creates the configured blob store backend.
func buildStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Store.Backend {
	case "s3":
		return blobstore.NewS3Store(ctx, cfg.Store.S3)
	case "postgres":
		return blobstore.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
	case "", "memory":
		logging.Op().Warn("using in-memory blob store, data will not survive restarts")
		return blobstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildL1 creates the optional local cache tier in front of the blob store.
func buildL1(cfg *config.Config) cache.Cache {
	if !cfg.L1.Enabled {
		return nil
	}
	local := cache.NewInMemoryCache()
	if cfg.L1.Redis == nil || cfg.L1.Redis.Addr == "" {
		return local
	}
	return cache.NewTieredCache(local, cache.NewRedisCache(*cfg.L1.Redis), 5*time.Minute)
}

// buildService wires the full analysis pipeline from configuration.
func buildService(ctx context.Context, cfg *config.Config) (*analyzer.Service, blobstore.Store, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var opts []reportcache.Option
	if l1 := buildL1(cfg); l1 != nil {
		opts = append(opts, reportcache.WithL1(l1))
	}

	svc := analyzer.New(
		normalize.New(cfg.Normalize),
		reportcache.New(store, cfg.Cache, opts...),
		ratelimit.New(store, cfg.RateLimit),
		ai.NewClient(cfg.AI),
		cfg.Analyzer,
	)
	return svc, store, nil
}
