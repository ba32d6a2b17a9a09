package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/position-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds so range scans compare integers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS product_snapshots (
	article_id       INTEGER NOT NULL,
	query            TEXT NOT NULL,
	observed_at      INTEGER NOT NULL,
	name             TEXT NOT NULL,
	brand            TEXT NOT NULL,
	price            INTEGER NOT NULL,
	logistics        INTEGER NOT NULL DEFAULT 0,
	rating           REAL NOT NULL DEFAULT 0,
	feedbacks        INTEGER NOT NULL DEFAULT 0,
	total_quantity   INTEGER NOT NULL DEFAULT 0,
	view_flags       INTEGER NOT NULL DEFAULT 0,
	supplier_flags   INTEGER NOT NULL DEFAULT 0,
	pictures         INTEGER NOT NULL DEFAULT 0,
	supplier_rating  REAL NOT NULL DEFAULT 0,
	distance         INTEGER NOT NULL DEFAULT 0,
	promotion        INTEGER NOT NULL DEFAULT 0,
	promotion_type   TEXT,
	promo_text       TEXT,
	cpm              REAL,
	promo_position   INTEGER,
	organic_position INTEGER NOT NULL,
	color_count      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (article_id, query, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_product_snapshots_query_time ON product_snapshots(query, observed_at);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber_id       INTEGER NOT NULL,
	article_id          INTEGER NOT NULL,
	query               TEXT NOT NULL,
	id                  TEXT NOT NULL,
	frequency           INTEGER NOT NULL CHECK (frequency BETWEEN 1 AND 24),
	last_known_position INTEGER,
	created_at          INTEGER NOT NULL,
	last_run_at         INTEGER,
	PRIMARY KEY (subscriber_id, article_id, query)
);
`

const sqliteUpsertSubscription = `INSERT INTO subscriptions
	(subscriber_id, article_id, query, id, frequency, last_known_position, created_at, last_run_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (subscriber_id, article_id, query) DO UPDATE SET
	frequency = excluded.frequency,
	last_known_position = excluded.last_known_position,
	last_run_at = excluded.last_run_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSnapshots(ctx context.Context, batch []model.Snapshot) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert snapshots")
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(snapshotColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_snapshots (`+
		strings.Join(snapshotColumns, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert snapshots")
	}
	defer stmt.Close()

	for _, snap := range batch {
		if _, err := stmt.ExecContext(ctx, snapshotValues(snap, snap.ObservedAt.UnixNano())...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert snapshot %d", snap.ArticleID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert snapshots")
	}
	return int64(len(batch)), nil
}

func (s *SQLiteStore) RecentSnapshots(ctx context.Context, articleID int64, query string, since time.Time) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshot+`
		WHERE article_id = ? AND query = ? AND observed_at >= ?
		ORDER BY observed_at ASC`,
		articleID, query, since.UnixNano())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent snapshots")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent snapshots iterate")
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, articleID int64, query string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshot+`
		WHERE article_id = ? AND query = ?
		ORDER BY observed_at DESC LIMIT 1`,
		articleID, query)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest snapshot")
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (model.Record, error) {
	var (
		r             model.Record
		observedAt    int64
		promotionType sql.Null[string]
		promoText     sql.Null[string]
		cpm           sql.Null[float64]
		promoPosition sql.Null[int]
	)
	if err := row.Scan(
		&r.ArticleID, &r.Query, &observedAt, &r.Name, &r.Brand, &r.Price, &r.LogisticsCost,
		&r.Rating, &r.FeedbackCount, &r.TotalQuantity, &r.ViewFlags, &r.SupplierFlags,
		&r.PictureCount, &r.SupplierRating, &r.Distance, &r.PromotionActive, &promotionType,
		&promoText, &cpm, &promoPosition, &r.OrganicPosition, &r.ColorCount, &r.Position,
	); err != nil {
		return r, err
	}
	r.ObservedAt = time.Unix(0, observedAt).UTC()
	r.PriceMinor = r.Price * 100
	r.PromotionType = nullPtr(promotionType)
	r.PromoText = nullPtr(promoText)
	r.CPM = nullPtr(cpm)
	r.PromoPosition = nullPtr(promoPosition)
	return r, nil
}

func nullPtr[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}

func (s *SQLiteStore) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertSubscription, subscriptionArgs(sub)...)
	return eris.Wrapf(err, "sqlite: save subscription %s", sub.Key)
}

func subscriptionArgs(sub model.Subscription) []any {
	var lastRun sql.Null[int64]
	if !sub.LastRunAt.IsZero() {
		lastRun = sql.Null[int64]{V: sub.LastRunAt.UnixNano(), Valid: true}
	}
	return []any{
		sub.SubscriberID, sub.ArticleID, sub.Query, sub.ID, sub.FrequencyPerDay,
		sub.LastKnownPosition, sub.CreatedAt.UnixNano(), lastRun,
	}
}

func (s *SQLiteStore) DeleteSubscription(ctx context.Context, key model.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = ? AND article_id = ? AND query = ?`,
		key.SubscriberID, key.ArticleID, key.Query)
	return eris.Wrapf(err, "sqlite: delete subscription %s", key)
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subscriber_id, article_id, query, id, frequency,
		last_known_position, created_at, last_run_at FROM subscriptions ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subscriptions")
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		var (
			sub       model.Subscription
			lastKnown sql.Null[int]
			createdAt int64
			lastRun   sql.Null[int64]
		)
		if err := rows.Scan(&sub.SubscriberID, &sub.ArticleID, &sub.Query, &sub.ID,
			&sub.FrequencyPerDay, &lastKnown, &createdAt, &lastRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		sub.LastKnownPosition = nullPtr(lastKnown)
		sub.CreatedAt = time.Unix(0, createdAt).UTC()
		if lastRun.Valid {
			sub.LastRunAt = time.Unix(0, lastRun.V).UTC()
		}
		subscriptionFromRow(&sub)
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list subscriptions iterate")
}

func (s *SQLiteStore) ImportSubscriptions(ctx context.Context, subs []model.Subscription) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, sub := range subs {
		res, err := tx.ExecContext(ctx, `INSERT INTO subscriptions
			(subscriber_id, article_id, query, id, frequency, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (subscriber_id, article_id, query) DO UPDATE SET frequency = excluded.frequency`,
			sub.SubscriberID, sub.ArticleID, sub.Query, sub.ID, sub.FrequencyPerDay, sub.CreatedAt.UnixNano())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import subscription %s", sub.Key)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit import")
}
