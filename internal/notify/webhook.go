package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/resilience"
)

// WebhookSink posts each event as JSON to a URL. 5xx and 429 responses and
// network errors are retried; other 4xx responses are not.
type WebhookSink struct {
	url    string
	client *http.Client
	retry  resilience.RetryPolicy
}

// NewWebhookSink creates a webhook sink. A non-positive timeout uses 10s.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  resilience.DefaultRetryPolicy(),
	}
}

func (s *WebhookSink) Notify(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	p := s.retry
	p.OnRetry = resilience.LogRetry("notify: webhook")
	return resilience.Do(ctx, p, func(ctx context.Context) error {
		return s.post(ctx, payload)
	})
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "notify: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		err := eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientStatus(resp.StatusCode) {
			return resilience.Transient(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
