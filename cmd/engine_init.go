package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/catalog"
	"github.com/sells-group/position-tracker/internal/db"
	"github.com/sells-group/position-tracker/internal/history"
	"github.com/sells-group/position-tracker/internal/metrics"
	"github.com/sells-group/position-tracker/internal/registry"
	"github.com/sells-group/position-tracker/internal/resilience"
	"github.com/sells-group/position-tracker/internal/resolver"
	"github.com/sells-group/position-tracker/internal/store"
)

const defaultSQLitePath = "tracker.db"

// engineEnv holds the store and the tracking components shared by the
// serve, resolve and history commands.
type engineEnv struct {
	Store    store.Store
	Metrics  metrics.Recorder
	Catalog  catalog.Fetcher
	History  *history.Store
	Resolver *resolver.Resolver
	Registry *registry.Registry

	// MetricsHandler serves /metrics; nil when metrics are disabled.
	MetricsHandler http.Handler
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolOptions{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initMetrics builds the recorder and its /metrics handler.
func initMetrics() (metrics.Recorder, http.Handler) {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// initCatalog builds the search client with its cache in front.
func initCatalog(rec metrics.Recorder) catalog.Fetcher {
	c := cfg.Catalog
	client := catalog.NewClient(
		catalog.WithBaseURL(c.BaseURL),
		catalog.WithDest(c.Dest),
		catalog.WithMaxPages(c.MaxPages),
		catalog.WithHTTPClient(&http.Client{Timeout: c.Timeout()}),
		catalog.WithRateLimit(c.RatePerSecond, c.RateBurst),
		catalog.WithBreaker(resilience.BreakerConfigFrom(c.BreakerThreshold, c.BreakerResetSecs)),
		catalog.WithUserAgent(c.UserAgent),
		catalog.WithMetrics(rec),
	)
	if c.CacheTTLSecs <= 0 {
		return client
	}
	return catalog.NewCachedFetcher(client, catalog.NewCache(c.CacheSizeMB, c.CacheTTL()), rec)
}

// initEngine validates config for mode, opens and migrates the store, and
// wires the catalog, history, resolver and registry. Callers should defer
// env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rec, handler := initMetrics()
	fetcher := initCatalog(rec)
	hist := history.New(st, history.NewThrottle(cfg.History.ThrottleWindow()))

	env := &engineEnv{
		Store:          st,
		Metrics:        rec,
		Catalog:        fetcher,
		History:        hist,
		Resolver:       resolver.New(fetcher, hist, rec),
		Registry:       registry.New(st),
		MetricsHandler: handler,
	}

	zap.L().Debug("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("dest", cfg.Catalog.Dest),
		zap.Int("max_pages", cfg.Catalog.MaxPages),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return env, nil
}
