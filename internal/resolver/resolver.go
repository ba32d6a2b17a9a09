// Package resolver determines an article's current rank for a query from a
// fresh crawl, falling back to the newest persisted record.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/position-tracker/internal/catalog"
	"github.com/sells-group/position-tracker/internal/history"
	"github.com/sells-group/position-tracker/internal/metrics"
	"github.com/sells-group/position-tracker/internal/model"
)

// History is the part of the history store the resolver needs.
type History interface {
	Append(ctx context.Context, batch []model.Snapshot) (history.Outcome, error)
	Latest(ctx context.Context, articleID int64, query string) (*model.Record, error)
}

// DefaultCrawlTimeout bounds one shared crawl.
const DefaultCrawlTimeout = 5 * time.Minute

// Resolution is a resolved position.
type Resolution struct {
	Position int
	Price    int64
	Snapshot model.Snapshot
	Source   model.PositionSource
	// Appended reports whether a crawl batch was written or throttled.
	Appended history.Outcome
	// PersistErr is a failed history append. The resolution is still valid.
	PersistErr error
}

// Resolver resolves positions. Concurrent resolutions of the same query
// share one crawl.
type Resolver struct {
	catalog catalog.Fetcher
	history History
	metrics metrics.Recorder
	group   singleflight.Group
	log     *zap.Logger

	crawlTimeout time.Duration
}

// New creates a Resolver.
func New(fetcher catalog.Fetcher, hist History, rec metrics.Recorder) *Resolver {
	return &Resolver{
		catalog: fetcher,
		history: hist,
		metrics: metrics.OrNoop(rec),
		log:     zap.L().With(zap.String("component", "resolver")),

		crawlTimeout: DefaultCrawlTimeout,
	}
}

// Resolve returns the rank of articleID for query. Transport and schema
// failures are returned as is; model.ErrNotFound means the article is in
// neither the crawl nor history.
func (r *Resolver) Resolve(ctx context.Context, articleID int64, query string) (Resolution, error) {
	res, err := r.resolve(ctx, articleID, query)
	switch {
	case err == nil:
		r.metrics.Resolution(string(res.Source), "found")
	case errors.Is(err, model.ErrNotFound):
		r.metrics.Resolution("none", "not_found")
	default:
		r.metrics.Resolution("none", model.ErrorKind(err))
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, articleID int64, query string) (Resolution, error) {
	snaps, err := r.crawl(ctx, query)
	if err != nil {
		return Resolution{}, err
	}

	for _, snap := range snaps {
		if snap.ArticleID != articleID {
			continue
		}
		res := Resolution{
			Position: snap.EffectivePosition(),
			Price:    snap.PriceMajor(),
			Snapshot: snap,
			Source:   model.SourceCrawl,
		}
		res.Appended, res.PersistErr = r.history.Append(ctx, snaps)
		if res.PersistErr != nil {
			r.metrics.HistoryAppend("failed")
			r.log.Error("resolver: history append failed",
				zap.String("query", query), zap.Error(res.PersistErr))
		} else {
			r.metrics.HistoryAppend(res.Appended.String())
		}
		return res, nil
	}

	rec, err := r.history.Latest(ctx, articleID, query)
	if err != nil {
		return Resolution{}, err
	}
	if rec == nil {
		return Resolution{}, eris.Wrapf(model.ErrNotFound, "article %d for %q", articleID, query)
	}
	return Resolution{
		Position: rec.Position,
		Price:    rec.Price,
		Snapshot: rec.Snapshot,
		Source:   model.SourceHistory,
	}, nil
}

// crawl fetches the catalog once per in-flight query. Callers sharing a
// flight receive the same slice and must not modify it. The flight runs
// detached from any single caller, bounded by crawlTimeout; a caller whose
// ctx ends stops waiting without failing the others.
func (r *Resolver) crawl(ctx context.Context, query string) ([]model.Snapshot, error) {
	ch := r.group.DoChan(query, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.crawlTimeout)
		defer cancel()
		return r.catalog.FetchCatalog(fctx, query)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.log.Debug("resolver: shared crawl", zap.String("query", query))
		}
		snaps, _ := res.Val.([]model.Snapshot)
		return snaps, nil
	}
}
