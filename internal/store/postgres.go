package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/position-tracker/internal/db"
	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool  db.Pool
	retry resilience.RetryPolicy
}

const (
	sqlRecentSnapshots = selectSnapshot + `
	WHERE article_id = $1 AND query = $2 AND observed_at >= $3
	ORDER BY observed_at ASC`

	sqlLatestSnapshot = selectSnapshot + `
	WHERE article_id = $1 AND query = $2
	ORDER BY observed_at DESC LIMIT 1`

	sqlSaveSubscription = `INSERT INTO subscriptions
	(subscriber_id, article_id, query, id, frequency, last_known_position, created_at, last_run_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (subscriber_id, article_id, query) DO UPDATE SET
	frequency = EXCLUDED.frequency,
	last_known_position = EXCLUDED.last_known_position,
	last_run_at = EXCLUDED.last_run_at`

	sqlListSubscriptions = `SELECT subscriber_id, article_id, query, id, frequency,
	last_known_position, created_at, last_run_at
	FROM subscriptions ORDER BY created_at ASC`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"recent_snapshots":  sqlRecentSnapshots,
	"latest_snapshot":   sqlLatestSnapshot,
	"save_subscription": sqlSaveSubscription,
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS product_snapshots (
	article_id       BIGINT NOT NULL,
	query            TEXT NOT NULL,
	observed_at      TIMESTAMPTZ NOT NULL,
	name             TEXT NOT NULL,
	brand            TEXT NOT NULL,
	price            BIGINT NOT NULL,
	logistics        BIGINT NOT NULL DEFAULT 0,
	rating           DOUBLE PRECISION NOT NULL DEFAULT 0,
	feedbacks        INTEGER NOT NULL DEFAULT 0,
	total_quantity   INTEGER NOT NULL DEFAULT 0,
	view_flags       INTEGER NOT NULL DEFAULT 0,
	supplier_flags   INTEGER NOT NULL DEFAULT 0,
	pictures         INTEGER NOT NULL DEFAULT 0,
	supplier_rating  DOUBLE PRECISION NOT NULL DEFAULT 0,
	distance         INTEGER NOT NULL DEFAULT 0,
	promotion        BOOLEAN NOT NULL DEFAULT false,
	promotion_type   TEXT,
	promo_text       TEXT,
	cpm              DOUBLE PRECISION,
	promo_position   INTEGER,
	organic_position INTEGER NOT NULL,
	color_count      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (article_id, query, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_product_snapshots_query_time ON product_snapshots(query, observed_at DESC);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber_id       BIGINT NOT NULL,
	article_id          BIGINT NOT NULL,
	query               TEXT NOT NULL,
	id                  TEXT NOT NULL,
	frequency           INTEGER NOT NULL CHECK (frequency BETWEEN 1 AND 24),
	last_known_position INTEGER,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_run_at         TIMESTAMPTZ,
	PRIMARY KEY (subscriber_id, article_id, query)
);
`

// NewPostgres connects to Postgres and returns a store using the default retry policy.
func NewPostgres(ctx context.Context, connString string, opts db.PoolOptions) (*PostgresStore, error) {
	opts.Prepare = preparedStatements
	pool, err := db.Open(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return NewPostgresWithPool(pool, resilience.DefaultRetryPolicy()), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool, retry resilience.RetryPolicy) *PostgresStore {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetry("postgres")
	}
	return &PostgresStore{pool: pool, retry: retry}
}

// Pool returns the underlying pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// InsertSnapshots COPYs the batch. COPY is all-or-nothing, so transient
// failures are retried as a whole.
func (s *PostgresStore) InsertSnapshots(ctx context.Context, batch []model.Snapshot) (int64, error) {
	rows := make([][]any, len(batch))
	for i, snap := range batch {
		rows[i] = snapshotValues(snap, snap.ObservedAt.UTC())
	}
	n, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return db.CopyFrom(ctx, s.pool, snapshotsTable, snapshotColumns, rows)
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert snapshots")
	}
	return n, nil
}

func (s *PostgresStore) RecentSnapshots(ctx context.Context, articleID int64, query string, since time.Time) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, sqlRecentSnapshots, articleID, query, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent snapshots")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: recent snapshots iterate")
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, articleID int64, query string) (*model.Record, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx, sqlLatestSnapshot, articleID, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest snapshot")
	}
	return &rec, nil
}

func scanPgRecord(row pgx.Row) (model.Record, error) {
	var r model.Record
	err := row.Scan(
		&r.ArticleID, &r.Query, &r.ObservedAt, &r.Name, &r.Brand, &r.Price, &r.LogisticsCost,
		&r.Rating, &r.FeedbackCount, &r.TotalQuantity, &r.ViewFlags, &r.SupplierFlags,
		&r.PictureCount, &r.SupplierRating, &r.Distance, &r.PromotionActive, &r.PromotionType,
		&r.PromoText, &r.CPM, &r.PromoPosition, &r.OrganicPosition, &r.ColorCount, &r.Position,
	)
	r.PriceMinor = r.Price * 100
	return r, err
}

func (s *PostgresStore) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	_, err := s.pool.Exec(ctx, sqlSaveSubscription,
		sub.SubscriberID, sub.ArticleID, sub.Query, sub.ID, sub.FrequencyPerDay,
		sub.LastKnownPosition, sub.CreatedAt.UTC(), nullTime(sub.LastRunAt),
	)
	return eris.Wrapf(err, "postgres: save subscription %s", sub.Key)
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, key model.Key) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = $1 AND article_id = $2 AND query = $3`,
		key.SubscriberID, key.ArticleID, key.Query,
	)
	return eris.Wrapf(err, "postgres: delete subscription %s", key)
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx, sqlListSubscriptions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var lastRun *time.Time
		if err := rows.Scan(&sub.SubscriberID, &sub.ArticleID, &sub.Query, &sub.ID,
			&sub.FrequencyPerDay, &sub.LastKnownPosition, &sub.CreatedAt, &lastRun); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		if lastRun != nil {
			sub.LastRunAt = *lastRun
		}
		subscriptionFromRow(&sub)
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list subscriptions iterate")
}

func (s *PostgresStore) ImportSubscriptions(ctx context.Context, subs []model.Subscription) (int64, error) {
	rows := make([][]any, len(subs))
	for i, sub := range subs {
		rows[i] = []any{sub.SubscriberID, sub.ArticleID, sub.Query, sub.ID, sub.FrequencyPerDay, sub.CreatedAt.UTC()}
	}
	n, err := db.Upsert(ctx, s.pool, db.UpsertSpec{
		Table:    "subscriptions",
		Columns:  []string{"subscriber_id", "article_id", "query", "id", "frequency", "created_at"},
		Conflict: []string{"subscriber_id", "article_id", "query"},
		Update:   []string{"frequency"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import subscriptions")
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
