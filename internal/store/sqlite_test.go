package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/position-tracker/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func testBatch(query string, at time.Time) []model.Snapshot {
	return []model.Snapshot{
		{ArticleID: 100, Query: query, ObservedAt: at, Name: "kettle", Brand: "acme", PriceMinor: 159900, OrganicPosition: 1},
		{
			ArticleID: 200, Query: query, ObservedAt: at, Name: "mug", Brand: "acme", PriceMinor: 49950,
			OrganicPosition: 2, PromotionActive: true, PromoPosition: intPtr(1), PromotionType: strPtr("search"),
		},
	}
}

func TestSQLite_InsertAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	n, err := st.InsertSnapshots(ctx, testBatch("чайник", at))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec, err := st.LatestSnapshot(ctx, 200, "чайник")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(499), rec.Price)
	assert.Equal(t, 1, rec.Position, "promo slot overrides organic rank")
	assert.Equal(t, 2, rec.OrganicPosition)
	assert.True(t, rec.PromotionActive)
	require.NotNil(t, rec.PromotionType)
	assert.Equal(t, "search", *rec.PromotionType)
	assert.Nil(t, rec.CPM)
	assert.True(t, at.Equal(rec.ObservedAt))

	rec, err = st.LatestSnapshot(ctx, 100, "чайник")
	require.NoError(t, err)
	assert.Equal(t, int64(1599), rec.Price)
	assert.Equal(t, 1, rec.Position)
}

func TestSQLite_LatestSnapshot_None(t *testing.T) {
	st := newTestSQLiteStore(t)

	rec, err := st.LatestSnapshot(context.Background(), 1, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLite_RecentSnapshots(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := range 4 {
		_, err := st.InsertSnapshots(ctx, testBatch("q", base.Add(time.Duration(i)*24*time.Hour)))
		require.NoError(t, err)
	}

	recs, err := st.RecentSnapshots(ctx, 100, "q", base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].ObservedAt.Equal(base.Add(24*time.Hour)), "boundary is inclusive")
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].ObservedAt.After(recs[i-1].ObservedAt), "ascending order")
	}

	recs, err = st.RecentSnapshots(ctx, 100, "other", base)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLite_LatestPicksNewest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := st.InsertSnapshots(ctx, testBatch("q", base))
	require.NoError(t, err)
	later := testBatch("q", base.Add(time.Hour))
	later[0].OrganicPosition = 9
	_, err = st.InsertSnapshots(ctx, later)
	require.NoError(t, err)

	rec, err := st.LatestSnapshot(ctx, 100, "q")
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Position)
}

func TestSQLite_Subscriptions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	sub := model.Subscription{
		Key:             model.Key{SubscriberID: 7, ArticleID: 100, Query: "q"},
		ID:              "h-1",
		FrequencyPerDay: 4,
		CreatedAt:       created,
	}
	require.NoError(t, st.SaveSubscription(ctx, sub))

	sub.LastKnownPosition = intPtr(12)
	sub.LastRunAt = created.Add(time.Hour)
	require.NoError(t, st.SaveSubscription(ctx, sub))

	subs, err := st.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	got := subs[0]
	assert.Equal(t, sub.Key, got.Key)
	assert.Equal(t, 6*time.Hour, got.CheckInterval)
	require.NotNil(t, got.LastKnownPosition)
	assert.Equal(t, 12, *got.LastKnownPosition)
	assert.True(t, sub.LastRunAt.Equal(got.LastRunAt))

	require.NoError(t, st.DeleteSubscription(ctx, sub.Key))
	subs, err = st.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSQLite_ImportSubscriptions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	existing := model.Subscription{
		Key: model.Key{SubscriberID: 1, ArticleID: 1, Query: "a"}, ID: "x",
		FrequencyPerDay: 1, LastKnownPosition: intPtr(3), CreatedAt: now,
	}
	require.NoError(t, st.SaveSubscription(ctx, existing))

	n, err := st.ImportSubscriptions(ctx, []model.Subscription{
		{Key: existing.Key, ID: "y", FrequencyPerDay: 12, CreatedAt: now},
		{Key: model.Key{SubscriberID: 1, ArticleID: 2, Query: "b"}, ID: "z", FrequencyPerDay: 2, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	subs, err := st.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	byArticle := map[int64]model.Subscription{}
	for _, s := range subs {
		byArticle[s.ArticleID] = s
	}
	assert.Equal(t, 12, byArticle[1].FrequencyPerDay)
	assert.Equal(t, "x", byArticle[1].ID, "existing identity kept")
	require.NotNil(t, byArticle[1].LastKnownPosition)
	assert.Equal(t, 3, *byArticle[1].LastKnownPosition)
	assert.Equal(t, 12*time.Hour, byArticle[2].CheckInterval)
}
