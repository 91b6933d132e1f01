package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/kpisync/internal/adapters/cache"
	"github.com/okian/kpisync/internal/adapters/http/api"
	"github.com/okian/kpisync/internal/adapters/http/swagger"
	"github.com/okian/kpisync/internal/adapters/repository"
	"github.com/okian/kpisync/internal/adapters/upstream"
	app "github.com/okian/kpisync/internal/app"
	"github.com/okian/kpisync/internal/config"
	"github.com/okian/kpisync/internal/domain/enrich"
	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/pagination"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	// A capped full backfill is 800 paced pages; the write timeout must outlast it.
	writeTimeout              = 5 * time.Minute
	idleTimeout               = 60 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger is not available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	application, err := wire(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to wire application", logger.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           application.mux,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("rangeCache", cfg.RangeCacheBackend),
			logger.Int("tenants", len(cfg.Tenants)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
}

// application is the wired process: routes plus the resources to release.
type application struct {
	svc     *app.Service
	mux     *http.ServeMux
	closers []func() error
}

// Close releases stores and clients in reverse order of creation.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Get().Warn(context.Background(), "close failed", logger.Error(err))
		}
	}
}

// wire builds every component from cfg.
func wire(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{}

	docs, err := openDocStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, docs.Close)

	durable, err := durableCache(ctx, cfg, docs, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := upstream.NewClient(
		upstream.WithRequestTimeout(cfg.RequestTimeout()),
		upstream.WithMaxRetries(cfg.MaxRetries),
		upstream.WithBackoff(cfg.BackoffBase(), cfg.BackoffJitter()),
	)
	chain := pagination.New(
		upstream.NewTransactionsAPI(client, cfg.UpstreamBaseURL, cfg.UpstreamVersion),
		pagination.WithPageDelay(cfg.PageDelay()),
	)

	sheets := make(map[string]upstream.SheetSource, len(cfg.Tenants))
	for id, t := range cfg.Tenants {
		sheets[id] = upstream.SheetSource{URL: t.Geo.SheetURL, CitiesTab: t.Geo.CitiesTab, CountiesTab: t.Geo.CountiesTab}
	}
	directories := geo.NewDirectoryCache(upstream.NewSheetLoader(client, sheets), geo.WithTTL(cfg.GeoDirectoryTTL()))
	resolver := enrich.NewResolver(
		upstream.NewContactsAPI(client, cfg.UpstreamBaseURL, cfg.UpstreamVersion),
		enrich.WithWorkers(cfg.EnrichWorkers),
	)

	a.svc = app.New(chain, repository.NewSnapshotStore(docs), app.NewTenantDirectory(cfg.Tenants),
		app.WithDirectories(directories),
		app.WithResolver(resolver),
		app.WithMemoryCache(cache.NewMemoryRangeCache(cache.WithTTL(cfg.MemoryCacheTTL()))),
		app.WithDurableCache(durable),
		app.WithSnapshotTTL(cfg.SnapshotTTL()),
		app.WithOverlapWindow(cfg.OverlapWindow()),
		app.WithPageSize(cfg.PageSize),
		app.WithPageCaps(cfg.FullPageCap, cfg.IncrementalPageCap),
	)

	a.mux = http.NewServeMux()
	swagger.Register(ctx, a.mux)
	api.NewServer(a.svc, a.svc).Register(a.mux)
	return a, nil
}

func openDocStore(ctx context.Context, cfg *config.Config) (repository.DocStore, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return repository.NewMemoryDocStore(), nil
	case config.StoreSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

func durableCache(ctx context.Context, cfg *config.Config, docs repository.DocStore, a *application) (cache.RangeCache, error) {
	switch cfg.RangeCacheBackend {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		rc := cache.NewRedisRangeCache(client, cfg.RedisPrefix, cache.WithTTL(cfg.DurableCacheTTL()))
		if err := rc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis range cache: %w", err)
		}
		return rc, nil
	case config.CacheBackendStore:
		return cache.NewStoreRangeCache(docs, cache.WithTTL(cfg.DurableCacheTTL())), nil
	default:
		return nil, fmt.Errorf("%w: range_cache_backend %q", config.ErrInvalidConfig, cfg.RangeCacheBackend)
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		// Average GC pause
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
