// Package app wires the configured components into a running search
// service shared by the CLI, the HTTP API and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/cache"
	"github.com/FranksOps/sift/internal/config"
	"github.com/FranksOps/sift/internal/fingerprint"
	"github.com/FranksOps/sift/internal/pacing"
	"github.com/FranksOps/sift/internal/pipeline"
	"github.com/FranksOps/sift/internal/platforms"
	"github.com/FranksOps/sift/internal/runner"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/internal/storage/csvbackend"
	"github.com/FranksOps/sift/internal/storage/jsonbackend"
	"github.com/FranksOps/sift/internal/storage/postgres"
	"github.com/FranksOps/sift/internal/storage/sqlite"
	"github.com/FranksOps/sift/internal/task"
	"github.com/FranksOps/sift/pkg/proxy"
	"github.com/FranksOps/sift/pkg/ratelimit"
	"github.com/FranksOps/sift/pkg/useragent"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *runner.Service
	Registry *search.Registry
	Cache    *cache.Cache
	// Archive is nil when archive.backend is none.
	Archive storage.Backend

	redis *redis.Client
}

// New builds every component from cfg. The returned App has started its
// housekeeping; call Close to stop it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	fetcher, err := a.newFetcher()
	if err != nil {
		return nil, err
	}

	a.Registry, err = platforms.Build(cfg.Platforms, fetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("register platforms: %w", err)
	}

	if err := a.initCache(ctx); err != nil {
		return nil, err
	}

	a.Archive, err = OpenArchive(ctx, cfg.Archive)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	var limiter *ratelimit.Manager
	var intake *ratelimit.Bucket
	if cfg.RateLimit.Enabled {
		perSource := make(map[string]ratelimit.Config, len(cfg.RateLimit.Sources))
		for name, b := range cfg.RateLimit.Sources {
			perSource[name] = b.Limit()
		}
		limiter = ratelimit.NewManager(cfg.RateLimit.Global.Limit(), cfg.RateLimit.Source.Limit(), perSource)
		intake = ratelimit.NewBucket(cfg.RateLimit.Intake.Limit())
	} else {
		logger.Warn("rate limiting disabled")
	}

	enricher := pipeline.New(pipeline.Config{
		Concurrency:     cfg.Fetch.ContentConcurrency,
		MaxContentChars: cfg.Fetch.MaxContentChars,
		RespectRobots:   cfg.Fetch.RespectRobots,
		Selectors:       cfg.Fetch.ContentSelectors,
	}, fetcher, logger)

	coord := search.NewCoordinator(search.Config{
		Registry: a.Registry,
		Cache:    a.Cache,
		Limiter:  limiter,
		Delays:   pacing.New(cfg.Delay.Pacing(), logger),
		Enricher: enricher,
		Logger:   logger,
	})

	a.Service = runner.NewService(runner.Config{
		MaxLimit:           cfg.Jobs.MaxLimit,
		DefaultLimit:       cfg.Jobs.DefaultLimit,
		GracePeriod:        cfg.Jobs.GracePeriod,
		MaxAge:             cfg.Jobs.MaxAge,
		ReapSchedule:       cfg.Jobs.ReapInterval,
		CacheSweepSchedule: cfg.Cache.SweepInterval,
		UseCache:           a.Cache != nil,
		Intake:             intake,
	}, task.NewStore(logger), coord, a.Cache, a.Archive, logger)

	if err := a.Service.Start(); err != nil {
		_ = a.closeStores()
		return nil, fmt.Errorf("start service: %w", err)
	}

	logger.Info("sift initialized",
		"platforms", a.Registry.Names(),
		"cache", cacheLabel(cfg.Cache),
		"archive", cfg.Archive.Backend,
		"rate_limit", cfg.RateLimit.Enabled,
		"delay", cfg.Delay.Enabled,
	)
	return a, nil
}

func (a *App) newFetcher() (*scraper.Fetcher, error) {
	cfg := a.Config.Fetch

	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	strategy, err := useragent.ParseStrategy(cfg.UAStrategy)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if cfg.ProxiesFile != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.LoadFile(cfg.ProxiesFile); err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		a.Logger.Info("loaded proxies", "count", proxies.Len(), "file", cfg.ProxiesFile)
	}

	var limiter *ratelimit.Bucket
	if a.Config.RateLimit.Enabled {
		limiter = ratelimit.NewBucket(a.Config.RateLimit.Fetch.Limit())
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      cfg.Timeout,
		UseCookieJar: true,
		ProxyPool:    proxies,
		UAPool:       useragent.NewPoolWithStrategy(cfg.UserAgents, strategy),
		Fingerprint:  profile,
		Limiter:      limiter,
		Analyzer:     bypass.NewAnalyzer(a.Config.Bypass),
	})
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	return fetcher, nil
}

func (a *App) initCache(ctx context.Context) error {
	cfg := a.Config.Cache
	if !cfg.Enabled {
		return nil
	}
	var store cache.Store
	switch cfg.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.closeRedis()
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		store = cache.NewRedisStore(a.redis, cfg.RedisPrefix)
	default:
		store = cache.NewMemoryStore()
	}
	a.Cache = cache.New(store, cfg.TTL, a.Logger)
	return nil
}

// OpenArchive opens the configured archive backend. It returns nil for the
// none backend.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "sqlite":
		b, err = sqlite.New(cfg.DSN)
	case "postgres":
		b, err = postgres.New(ctx, cfg.DSN)
	case "json":
		b, err = jsonbackend.New(cfg.Path)
	case "csv":
		b, err = csvbackend.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", cfg.Backend, err)
	}
	return b, nil
}

// Close cancels running jobs, waiting for them until ctx expires, and
// releases the archive and cache connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown service: %w", err))
		}
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	if err := a.closeRedis(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeRedis() error {
	if a.redis == nil {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	return err
}

func cacheLabel(c config.CacheConfig) string {
	if !c.Enabled {
		return "disabled"
	}
	return c.Backend
}
