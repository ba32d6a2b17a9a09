package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/metrics"
	"github.com/sells-group/position-tracker/internal/model"
)

// Cache holds recent crawl results keyed by query.
type Cache interface {
	Get(query string) ([]model.Snapshot, bool)
	Set(query string, snaps []model.Snapshot)
}

// NewCache returns a freecache-backed cache, or a no-op cache when sizeMB
// or ttl is not positive.
func NewCache(sizeMB int, ttl time.Duration) Cache {
	if sizeMB <= 0 || ttl <= 0 {
		return noopCache{}
	}
	size := sizeMB * 1024 * 1024
	return &memCache{
		fc:       freecache.NewCache(size),
		ttl:      max(int(ttl.Seconds()), 1),
		maxEntry: size/1024 - entryOverhead,
	}
}

// entryOverhead is freecache's per-entry header. An entry's key plus value
// must fit in capacity/1024 minus this header.
const entryOverhead = 24

// memCache stores a crawl as s2-compressed JSON chunks plus a header holding
// the chunk count. Chunks are packed by encoded size so each one fits in a
// single freecache entry. The header is written last, so a partially stored
// or partially evicted crawl reads as a miss.
type memCache struct {
	fc       *freecache.Cache
	ttl      int
	maxEntry int
}

func headerKey(query string) []byte { return []byte("h:" + query) }

func chunkKey(query string, i int) []byte { return []byte("c:" + strconv.Itoa(i) + ":" + query) }

func (c *memCache) Get(query string) ([]model.Snapshot, bool) {
	hdr, err := c.fc.Get(headerKey(query))
	if err != nil {
		return nil, false
	}
	n, err := strconv.Atoi(string(hdr))
	if err != nil {
		return nil, false
	}

	var snaps []model.Snapshot
	for i := range n {
		packed, err := c.fc.Get(chunkKey(query, i))
		if err != nil {
			return nil, false
		}
		raw, err := s2.Decode(nil, packed)
		if err != nil {
			return nil, false
		}
		var chunk []model.Snapshot
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, false
		}
		snaps = append(snaps, chunk...)
	}
	return snaps, true
}

func (c *memCache) Set(query string, snaps []model.Snapshot) {
	// Old chunks are overwritten below; drop the header first so an aborted
	// store cannot pair it with a mix of old and new chunks.
	c.fc.Del(headerKey(query))

	n := 0
	buf := []byte{'['}
	flush := func() bool {
		key := chunkKey(query, n)
		packed := s2.Encode(nil, append(buf, ']'))
		if err := c.fc.Set(key, packed, c.ttl); err != nil {
			zap.L().Debug("catalog: cache set failed", zap.String("query", query), zap.Error(err))
			return false
		}
		n++
		buf = append(buf[:0], '[')
		return true
	}

	for _, snap := range snaps {
		item, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if len(buf) > 1 && !c.fits(query, n, len(buf)+1+len(item)+1) {
			if !flush() {
				return
			}
		}
		if !c.fits(query, n, len(buf)+len(item)+1) {
			zap.L().Debug("catalog: snapshot too large to cache", zap.String("query", query), zap.Int64("article", snap.ArticleID))
			return
		}
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		buf = append(buf, item...)
	}
	if len(buf) > 1 && !flush() {
		return
	}
	_ = c.fc.Set(headerKey(query), []byte(strconv.Itoa(n)), c.ttl)
}

// fits reports whether a chunk of rawLen JSON bytes stays within the entry
// limit for chunk i even when it does not compress.
func (c *memCache) fits(query string, i, rawLen int) bool {
	enc := s2.MaxEncodedLen(rawLen)
	return enc >= 0 && len(chunkKey(query, i))+enc <= c.maxEntry
}

type noopCache struct{}

func (noopCache) Get(string) ([]model.Snapshot, bool) { return nil, false }
func (noopCache) Set(string, []model.Snapshot)        {}

// CachedFetcher serves repeated crawls of a query from Cache for its TTL.
// Empty results are not cached.
type CachedFetcher struct {
	next    Fetcher
	cache   Cache
	metrics metrics.Recorder
}

// NewCachedFetcher wraps next with cache.
func NewCachedFetcher(next Fetcher, cache Cache, rec metrics.Recorder) *CachedFetcher {
	return &CachedFetcher{next: next, cache: cache, metrics: metrics.OrNoop(rec)}
}

func (f *CachedFetcher) FetchCatalog(ctx context.Context, query string) ([]model.Snapshot, error) {
	if snaps, ok := f.cache.Get(query); ok {
		f.metrics.CacheLookup(true)
		return snaps, nil
	}
	f.metrics.CacheLookup(false)

	snaps, err := f.next.FetchCatalog(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(snaps) > 0 {
		f.cache.Set(query, snaps)
	}
	return snaps, nil
}
