package main

import (
	"context"
	"fmt"

	"mediafetch/internal/adapters/apify"
	"mediafetch/internal/adapters/downloader"
	"mediafetch/internal/adapters/localstorage"
	"mediafetch/internal/adapters/memstore"
	"mediafetch/internal/adapters/resolver"
	"mediafetch/internal/adapters/shortlink"
	"mediafetch/internal/adapters/sqlstore"
	"mediafetch/internal/adapters/ytdlp"
	"mediafetch/internal/config"
	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/core/sniff"
	"mediafetch/internal/core/validate"
	"mediafetch/internal/service"
)

// app holds the wired components shared by every command.
type app struct {
	dispatcher *service.Dispatcher
	pool       *service.WorkerPool
	storage    *localstorage.LocalStorage
	chain      *service.Chain
	close      func()
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	storage := localstorage.NewLocalStorage(cfg.OutputDir)
	gate := sniff.New(cfg.Jobs.MinMediaBytes, cfg.Jobs.StrictSniff)
	chain, err := buildChain(cfg.Strategies)
	if err != nil {
		closeStore()
		return nil, err
	}

	runner := service.NewRunner(store, storage, chain, gate, shortlink.NewResolver()).
		WithTimeouts(cfg.Jobs.StrategyTimeout, cfg.Jobs.ResolveTimeout)
	pool := service.NewWorkerPool(ctx, cfg.Jobs.MaxConcurrent)
	dispatcher := service.NewDispatcher(validate.New(cfg.Security.AllowedHosts...), store, storage, gate, runner, pool)

	return &app{
		dispatcher: dispatcher,
		pool:       pool,
		storage:    storage,
		chain:      chain,
		close: func() {
			pool.Stop()
			closeStore()
		},
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ports.StatusStore, func(), error) {
	switch cfg.Driver {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		store, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s status store: %w", cfg.Driver, err)
		}
		return store, func() { store.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// buildChain orders the strategies: direct extraction for the platforms it
// handles best, then the third-party resolvers that are configured, then the
// generic extractor as the fallback.
func buildChain(cfg config.StrategyConfig) (*service.Chain, error) {
	opts := ytdlp.Options{BinaryPath: cfg.YtDlpBinary, CookiesFile: cfg.CookiesFile}
	chain := service.NewChain(ytdlp.NewExtractor("ytdlp-generic", ytdlp.FormatBest, opts))

	chain.Register(
		service.OnPlatforms(domain.PlatformYouTube, domain.PlatformTikTok, domain.PlatformInstagram, domain.PlatformTwitter, domain.PlatformFacebook),
		ytdlp.NewExtractor("ytdlp-mp4", ytdlp.FormatMP4, opts),
	)

	dl := downloader.NewHTTPDownloader()
	if cfg.ApifyToken != "" {
		scraper, err := apify.NewApifyScraper(cfg.ApifyToken, dl)
		if err != nil {
			return nil, err
		}
		chain.Register(service.OnPlatforms(scraper.Platforms()...), scraper)
	}
	if cfg.ResolverEndpoint != "" {
		client, err := resolver.NewClient(cfg.ResolverEndpoint, cfg.ResolverAPIKey, dl)
		if err != nil {
			return nil, err
		}
		chain.Register(service.Always, client)
	}
	return chain, nil
}
