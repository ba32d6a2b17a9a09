// Package catalog crawls the marketplace search endpoint and turns its
// pages into product snapshots.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/position-tracker/internal/metrics"
	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/resilience"
)

const (
	// DefaultBaseURL is the marketplace catalog search endpoint.
	DefaultBaseURL = "https://search.wb.ru/exactmatch/ru/common/v9/search"
	// DefaultDest is the delivery region the ranking is computed for.
	DefaultDest = "123585528"
	// DefaultMaxPages is the crawl ceiling.
	DefaultMaxPages = 60

	defaultUserAgent = "position-tracker/1.0"
)

// Fetcher returns the ranked products for a query.
type Fetcher interface {
	FetchCatalog(ctx context.Context, query string) ([]model.Snapshot, error)
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets a custom search endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDest sets the delivery region parameter.
func WithDest(dest string) Option {
	return func(c *Client) { c.dest = dest }
}

// WithMaxPages sets the crawl ceiling.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithRateLimit paces page requests across all crawls.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithBreaker wraps every crawl in a circuit breaker.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(c *Client) { c.breakerCfg = &cfg }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMetrics reports page and crawl measurements to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.metrics = metrics.OrNoop(r) }
}

// Client crawls the catalog search endpoint. Pages of one crawl are fetched
// sequentially; independent crawls may run concurrently and share the limiter.
type Client struct {
	baseURL    string
	dest       string
	maxPages   int
	userAgent  string
	http       *http.Client
	limiter    *rate.Limiter
	breakerCfg *resilience.BreakerConfig
	breaker    *resilience.Breaker
	metrics    metrics.Recorder
	log        *zap.Logger

	nowFunc func() time.Time
}

// NewClient creates a catalog client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		dest:      DefaultDest,
		maxPages:  DefaultMaxPages,
		userAgent: defaultUserAgent,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		metrics: metrics.Noop{},
		log:     zap.L().With(zap.String("component", "catalog")),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakerCfg != nil {
		cfg := *c.breakerCfg
		cfg.Trips = tripsBreaker
		onChange := cfg.OnStateChange
		cfg.OnStateChange = func(from, to resilience.BreakerState) {
			c.metrics.BreakerState(int(to))
			c.log.Warn("catalog: circuit breaker state change",
				zap.Stringer("from", from), zap.Stringer("to", to))
			if onChange != nil {
				onChange(from, to)
			}
		}
		c.breaker = resilience.NewBreaker(cfg)
	}
	return c
}

// tripsBreaker counts upstream failures only; schema errors and caller
// cancellation say nothing about the service's health.
func tripsBreaker(err error) bool {
	return model.IsTransport(err) && !errors.Is(err, context.Canceled)
}

// FetchCatalog crawls pages 1..maxPages for query and returns products in
// rank order with OrganicPosition set to 1 + index. The crawl stops at the
// ceiling, at the first empty page, or at the first non-200 page after page 1.
func (c *Client) FetchCatalog(ctx context.Context, query string) ([]model.Snapshot, error) {
	snaps, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]model.Snapshot, error) {
		return c.crawl(ctx, query)
	})
	switch {
	case errors.Is(err, resilience.ErrBreakerOpen):
		c.metrics.CrawlFinished("breaker_open", 0)
		return nil, &model.TransportError{Op: "crawl " + query, Err: err}
	case err != nil:
		c.metrics.CrawlFinished(model.ErrorKind(err), 0)
		return nil, err
	}
	c.metrics.CrawlFinished("ok", len(snaps))
	return snaps, nil
}

func (c *Client) crawl(ctx context.Context, query string) ([]model.Snapshot, error) {
	observedAt := c.nowFunc().UTC()
	var out []model.Snapshot

	for page := 1; page <= c.maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &model.TransportError{Op: pageOp(page), Err: err}
		}

		products, status, err := c.fetchPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			if page == 1 {
				return nil, &model.TransportError{Op: pageOp(page), StatusCode: status}
			}
			c.log.Info("catalog: crawl stopped on non-success status",
				zap.String("query", query), zap.Int("page", page), zap.Int("status", status))
			break
		}
		if len(products) == 0 {
			break
		}
		for _, p := range products {
			out = append(out, p.snapshot(query, observedAt, len(out)+1))
		}
	}

	c.log.Debug("catalog: crawl complete", zap.String("query", query), zap.Int("products", len(out)))
	return out, nil
}

func pageOp(page int) string {
	return fmt.Sprintf("page %d", page)
}

func (c *Client) pageURL(query string, page int) string {
	params := url.Values{
		"ab_testing":         {"false"},
		"appType":            {"1"},
		"curr":               {"rub"},
		"dest":               {c.dest},
		"lang":               {"ru"},
		"page":               {strconv.Itoa(page)},
		"query":              {query},
		"resultset":          {"catalog"},
		"sort":               {"popular"},
		"spp":                {"30"},
		"suppressSpellcheck": {"false"},
	}
	return c.baseURL + "?" + params.Encode()
}

// fetchPage returns decoded products and the HTTP status. A non-200 status
// is returned without an error so the caller can apply the stop rule.
func (c *Client) fetchPage(ctx context.Context, query string, page int) ([]wireProduct, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(query, page), nil)
	if err != nil {
		return nil, 0, &model.ValidationError{Field: "query", Reason: "cannot build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.CatalogPage(0, time.Since(start))
		return nil, 0, &model.TransportError{Op: pageOp(page), Err: err}
	}
	defer resp.Body.Close()
	c.metrics.CatalogPage(resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, &model.TransportError{Op: pageOp(page), Err: err}
	}
	products, err := decodePage(body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return products, resp.StatusCode, nil
}
