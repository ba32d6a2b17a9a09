// Package store persists product snapshots and subscriptions in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/sells-group/position-tracker/internal/model"
)

// SnapshotStore is the history table. Rows are append-only.
type SnapshotStore interface {
	// InsertSnapshots writes one crawled batch. All rows share ObservedAt.
	InsertSnapshots(ctx context.Context, batch []model.Snapshot) (int64, error)
	// RecentSnapshots returns records with ObservedAt >= since, oldest first.
	RecentSnapshots(ctx context.Context, articleID int64, query string, since time.Time) ([]model.Record, error)
	// LatestSnapshot returns the newest record, or nil when there is none.
	LatestSnapshot(ctx context.Context, articleID int64, query string) (*model.Record, error)
}

// SubscriptionStore keeps a durable copy of the in-memory registry.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	DeleteSubscription(ctx context.Context, key model.Key) error
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	// ImportSubscriptions bulk-loads subscriptions. Existing keys keep their
	// state and only take the new frequency.
	ImportSubscriptions(ctx context.Context, subs []model.Subscription) (int64, error)
}

// Store defines the persistence interface for the tracker.
type Store interface {
	SnapshotStore
	SubscriptionStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const snapshotsTable = "product_snapshots"

var snapshotColumns = []string{
	"article_id", "query", "observed_at", "name", "brand", "price", "logistics",
	"rating", "feedbacks", "total_quantity", "view_flags", "supplier_flags",
	"pictures", "supplier_rating", "distance", "promotion", "promotion_type",
	"promo_text", "cpm", "promo_position", "organic_position", "color_count",
}

// positionExpr picks the displayed rank: the promo slot overrides the
// organic rank only for an active promotion with a positive slot.
const positionExpr = `CASE WHEN promotion AND promo_position IS NOT NULL AND promo_position > 0 THEN promo_position ELSE organic_position END`

const selectSnapshot = `SELECT article_id, query, observed_at, name, brand, price, logistics,
	rating, feedbacks, total_quantity, view_flags, supplier_flags, pictures,
	supplier_rating, distance, promotion, promotion_type, promo_text, cpm,
	promo_position, organic_position, color_count, ` + positionExpr + ` AS position
	FROM product_snapshots`

// snapshotValues orders s to match snapshotColumns. observedAt is passed in
// so each driver can choose its time encoding.
func snapshotValues(s model.Snapshot, observedAt any) []any {
	return []any{
		s.ArticleID, s.Query, observedAt, s.Name, s.Brand, s.PriceMajor(), s.LogisticsCost,
		s.Rating, s.FeedbackCount, s.TotalQuantity, s.ViewFlags, s.SupplierFlags,
		s.PictureCount, s.SupplierRating, s.Distance, s.PromotionActive, s.PromotionType,
		s.PromoText, s.CPM, s.PromoPosition, s.OrganicPosition, s.ColorCount,
	}
}

// subscriptionFromRow fills the derived fields of a loaded subscription.
func subscriptionFromRow(sub *model.Subscription) {
	sub.CheckInterval = time.Duration(model.CheckIntervalHours(sub.FrequencyPerDay)) * time.Hour
}
