package registry

import (
	"context"

	"github.com/sells-group/position-tracker/internal/model"
)

// BeginDraft starts the two-step creation flow by storing a validated
// pending query for the subscriber. A newer draft replaces an older one.
func (r *Registry) BeginDraft(subscriberID int64, query string) (string, error) {
	q, err := model.NormalizeQuery(query)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.drafts[subscriberID] = q
	r.mu.Unlock()
	return q, nil
}

// PendingQuery returns the subscriber's draft query.
func (r *Registry) PendingQuery(subscriberID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.drafts[subscriberID]
	return q, ok
}

// CancelDraft drops the subscriber's draft.
func (r *Registry) CancelDraft(subscriberID int64) {
	r.mu.Lock()
	delete(r.drafts, subscriberID)
	r.mu.Unlock()
}

// ConfirmDraft completes the flow with the article and frequency. The draft
// is consumed only when the subscription is created, so a bad frequency
// can be corrected and confirmed again.
func (r *Registry) ConfirmDraft(ctx context.Context, subscriberID, articleID int64, frequency int) (model.Subscription, error) {
	q, ok := r.PendingQuery(subscriberID)
	if !ok {
		return model.Subscription{}, &model.ValidationError{Field: "query", Reason: "no pending query to confirm"}
	}
	sub, err := r.Add(ctx, subscriberID, articleID, q, frequency)
	if err != nil {
		return model.Subscription{}, err
	}

	r.mu.Lock()
	if r.drafts[subscriberID] == q {
		delete(r.drafts, subscriberID)
	}
	r.mu.Unlock()
	return sub, nil
}
