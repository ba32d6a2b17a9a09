// Package history appends crawled batches to the snapshot store under a
// per-query write throttle and answers history lookups.
package history

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/store"
)

// Outcome of an Append call.
type Outcome int

const (
	// Written means the batch was persisted.
	Written Outcome = iota
	// Skipped means the throttle suppressed the write. It is not an error.
	Skipped
)

func (o Outcome) String() string {
	if o == Written {
		return "written"
	}
	return "skipped"
}

// DefaultWindowDays is the span of the history view.
const DefaultWindowDays = 7

// Store is the History Store.
type Store struct {
	snapshots store.SnapshotStore
	throttle  *Throttle
	log       *zap.Logger

	nowFunc func() time.Time
}

// New creates a history store. A nil throttle gets the default window.
func New(snapshots store.SnapshotStore, throttle *Throttle) *Store {
	if throttle == nil {
		throttle = NewThrottle(DefaultThrottleWindow)
	}
	return &Store{
		snapshots: snapshots,
		throttle:  throttle,
		log:       zap.L().With(zap.String("component", "history")),
		nowFunc:   time.Now,
	}
}

// Append persists one crawled batch unless the query was written within the
// throttle window. The batch must be a single query; duplicate articles keep
// their first (best-ranked) occurrence.
func (s *Store) Append(ctx context.Context, batch []model.Snapshot) (Outcome, error) {
	if len(batch) == 0 {
		return Skipped, nil
	}
	query := batch[0].Query
	for _, snap := range batch[1:] {
		if snap.Query != query {
			return Skipped, &model.ValidationError{Field: "batch", Reason: "mixed queries in one batch"}
		}
	}

	release, ok := s.throttle.Reserve(query)
	if !ok {
		s.log.Debug("history: append throttled", zap.String("query", query))
		return Skipped, nil
	}

	rows := dedupe(batch)
	n, err := s.snapshots.InsertSnapshots(ctx, rows)
	if err != nil {
		release(false)
		return Skipped, &model.PersistenceError{Op: "append", Err: err}
	}
	release(true)

	s.log.Info("history: batch written",
		zap.String("query", query),
		zap.Int64("rows", n),
	)
	return Written, nil
}

func dedupe(batch []model.Snapshot) []model.Snapshot {
	seen := make(map[int64]struct{}, len(batch))
	out := make([]model.Snapshot, 0, len(batch))
	for _, snap := range batch {
		if _, dup := seen[snap.ArticleID]; dup {
			continue
		}
		seen[snap.ArticleID] = struct{}{}
		out = append(out, snap)
	}
	return out
}

// QueryRecent returns records for (articleID, query) with ObservedAt >= since, oldest first.
func (s *Store) QueryRecent(ctx context.Context, articleID int64, query string, since time.Time) ([]model.Record, error) {
	recs, err := s.snapshots.RecentSnapshots(ctx, articleID, query, since)
	if err != nil {
		return nil, &model.PersistenceError{Op: "query recent", Err: err}
	}
	return recs, nil
}

// Latest returns the newest record, or nil when none exists.
func (s *Store) Latest(ctx context.Context, articleID int64, query string) (*model.Record, error) {
	rec, err := s.snapshots.LatestSnapshot(ctx, articleID, query)
	if err != nil {
		return nil, &model.PersistenceError{Op: "latest", Err: eris.Wrapf(err, "article %d", articleID)}
	}
	return rec, nil
}

// Window returns the last days of history and its chart series.
func (s *Store) Window(ctx context.Context, articleID int64, query string, days int) (Chart, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	since := s.nowFunc().Add(-time.Duration(days) * 24 * time.Hour)
	recs, err := s.QueryRecent(ctx, articleID, query, since)
	if err != nil {
		return Chart{}, err
	}
	return BuildChart(articleID, query, recs), nil
}
