// Package metrics exposes tracker counters through Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives tracker measurements.
type Recorder interface {
	CatalogPage(status int, d time.Duration)
	CrawlFinished(outcome string, products int)
	CacheLookup(hit bool)
	Resolution(source, outcome string)
	HistoryAppend(outcome string)
	Event(kind string)
	BreakerState(state int)
	SetSubscriptions(n int)
}

// Prometheus implements Recorder.
type Prometheus struct {
	catalogPages   *prometheus.CounterVec
	catalogLatency prometheus.Histogram
	crawls         *prometheus.CounterVec
	crawlProducts  prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	historyAppends *prometheus.CounterVec
	events         *prometheus.CounterVec
	breakerState   prometheus.Gauge
	subscriptions  prometheus.Gauge
}

// New registers the tracker collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Prometheus{
		catalogPages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_catalog_pages_total",
			Help: "Catalog search page requests by status class",
		}, []string{"status"}),
		catalogLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_catalog_page_duration_seconds",
			Help:    "Catalog search page latency",
			Buckets: prometheus.DefBuckets,
		}),
		crawls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_crawls_total",
			Help: "Completed catalog crawls by outcome",
		}, []string{"outcome"}),
		crawlProducts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_crawl_products",
			Help:    "Products collected per crawl",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_crawl_cache_lookups_total",
			Help: "Crawl cache lookups by result",
		}, []string{"result"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_resolutions_total",
			Help: "Position resolutions by source and outcome",
		}, []string{"source", "outcome"}),
		historyAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_history_appends_total",
			Help: "History append attempts by outcome",
		}, []string{"outcome"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_events_total",
			Help: "Notification events by kind",
		}, []string{"kind"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_catalog_breaker_state",
			Help: "Catalog circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_subscriptions",
			Help: "Active subscriptions",
		}),
	}
}

func (m *Prometheus) CatalogPage(status int, d time.Duration) {
	m.catalogPages.WithLabelValues(statusClass(status)).Inc()
	m.catalogLatency.Observe(d.Seconds())
}

func (m *Prometheus) CrawlFinished(outcome string, products int) {
	m.crawls.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.crawlProducts.Observe(float64(products))
	}
}

func (m *Prometheus) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Prometheus) Resolution(source, outcome string) {
	m.resolutions.WithLabelValues(source, outcome).Inc()
}

func (m *Prometheus) HistoryAppend(outcome string) {
	m.historyAppends.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) Event(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

func (m *Prometheus) BreakerState(state int) {
	m.breakerState.Set(float64(state))
}

func (m *Prometheus) SetSubscriptions(n int) {
	m.subscriptions.Set(float64(n))
}

// statusClass buckets HTTP statuses; 0 means the request never got a response.
func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) CatalogPage(int, time.Duration) {}
func (Noop) CrawlFinished(string, int)      {}
func (Noop) CacheLookup(bool)               {}
func (Noop) Resolution(string, string)      {}
func (Noop) HistoryAppend(string)           {}
func (Noop) Event(string)                   {}
func (Noop) BreakerState(int)               {}
func (Noop) SetSubscriptions(int)           {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
