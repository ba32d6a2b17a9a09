package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CatalogPage(200, 40*time.Millisecond)
	m.CatalogPage(503, time.Second)
	m.CatalogPage(0, time.Second)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Resolution("crawl", "found")
	m.HistoryAppend("skipped")
	m.Event("changed")
	m.BreakerState(1)
	m.SetSubscriptions(3)
	m.CrawlFinished("ok", 120)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogPages.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogPages.WithLabelValues("5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogPages.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("crawl", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.subscriptions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	tests := map[int]string{0: "error", 200: "2xx", 301: "3xx", 404: "4xx", 429: "4xx", 500: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), "status %d", code)
	}
}

func TestOrNoop(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Noop{}, OrNoop(nil))
	m := New(prometheus.NewRegistry())
	assert.Same(t, m, OrNoop(m))
}
