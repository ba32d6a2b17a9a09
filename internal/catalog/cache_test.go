package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/position-tracker/internal/model"
)

type countingFetcher struct {
	calls int
	snaps []model.Snapshot
	err   error
}

func (f *countingFetcher) FetchCatalog(context.Context, string) ([]model.Snapshot, error) {
	f.calls++
	return f.snaps, f.err
}

func makeSnaps(n int) []model.Snapshot {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Snapshot, n)
	for i := range out {
		out[i] = model.Snapshot{ArticleID: int64(i + 1), Query: "q", ObservedAt: at, Name: "p", OrganicPosition: i + 1}
	}
	return out
}

func realisticSnaps(n int) []model.Snapshot {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	promoType := "search"
	out := make([]model.Snapshot, n)
	for i := range out {
		text := fmt.Sprintf("Скидка %d%% на электрический чайник до конца недели", i%40)
		cpm := 250.5 + float64(i)
		slot := i%7 + 1
		out[i] = model.Snapshot{
			ArticleID:       int64(100000000 + i*7919),
			Query:           "чайник электрический",
			ObservedAt:      at,
			Name:            fmt.Sprintf("Чайник электрический стеклянный с подсветкой 1.7 л, модель %d", i),
			Brand:           "Бренд Дом и Кухня",
			PriceMinor:      int64(199900 + i*100),
			LogisticsCost:   4900,
			Rating:          4.8,
			FeedbackCount:   1200 + i,
			TotalQuantity:   500 - i,
			PictureCount:    9,
			SupplierRating:  4.7,
			Distance:        48,
			PromotionActive: i%3 == 0,
			PromotionType:   &promoType,
			PromoText:       &text,
			CPM:             &cpm,
			PromoPosition:   &slot,
			OrganicPosition: i + 1,
			ColorCount:      3,
		}
	}
	return out
}

func TestMemCache_RoundTripAcrossChunks(t *testing.T) {
	t.Parallel()

	c := NewCache(4, time.Minute)
	snaps := makeSnaps(157)
	c.Set("q", snaps)

	got, ok := c.Get("q")
	require.True(t, ok)
	require.Len(t, got, len(snaps))
	assert.Equal(t, snaps[len(snaps)-1].ArticleID, got[len(got)-1].ArticleID)
	assert.True(t, snaps[0].ObservedAt.Equal(got[0].ObservedAt))

	_, ok = c.Get("other")
	assert.False(t, ok)
}

func TestMemCache_RealisticCrawlAtDefaultSize(t *testing.T) {
	t.Parallel()

	for _, sizeMB := range []int{32, 4} {
		c := NewCache(sizeMB, time.Minute)
		snaps := realisticSnaps(300)
		c.Set("чайник электрический", snaps)

		got, ok := c.Get("чайник электрический")
		require.True(t, ok, "cache of %d MB should hold a full crawl", sizeMB)
		require.Len(t, got, len(snaps))
		for i := range snaps {
			assert.Equal(t, snaps[i].ArticleID, got[i].ArticleID)
			assert.Equal(t, snaps[i].EffectivePosition(), got[i].EffectivePosition())
		}
		require.NotNil(t, got[299].PromoText)
		assert.Equal(t, *snaps[299].PromoText, *got[299].PromoText)

		mc := c.(*memCache)
		hdr, err := mc.fc.Get(headerKey("чайник электрический"))
		require.NoError(t, err)
		assert.NotEqual(t, "1", string(hdr), "a 300-product crawl needs several chunks")
	}
}

func TestMemCache_OversizedSnapshotIsMiss(t *testing.T) {
	t.Parallel()

	c := NewCache(1, time.Minute)
	snaps := makeSnaps(3)
	snaps[1].Name = strings.Repeat("x", 2000)
	c.Set("q", snaps)

	_, ok := c.Get("q")
	assert.False(t, ok)
}

func TestNewCache_Disabled(t *testing.T) {
	t.Parallel()

	c := NewCache(0, time.Minute)
	c.Set("q", makeSnaps(1))
	_, ok := c.Get("q")
	assert.False(t, ok)
}

func TestCachedFetcher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	next := &countingFetcher{snaps: makeSnaps(3)}
	f := NewCachedFetcher(next, NewCache(4, time.Minute), nil)

	for range 3 {
		snaps, err := f.FetchCatalog(ctx, "q")
		require.NoError(t, err)
		assert.Len(t, snaps, 3)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCachedFetcher_SkipsEmptyAndErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	empty := &countingFetcher{}
	f := NewCachedFetcher(empty, NewCache(4, time.Minute), nil)
	_, _ = f.FetchCatalog(ctx, "q")
	_, _ = f.FetchCatalog(ctx, "q")
	assert.Equal(t, 2, empty.calls)

	failing := &countingFetcher{err: errors.New("down")}
	f = NewCachedFetcher(failing, NewCache(4, time.Minute), nil)
	_, err := f.FetchCatalog(ctx, "q")
	require.Error(t, err)
	_, _ = f.FetchCatalog(ctx, "q")
	assert.Equal(t, 2, failing.calls)
}
