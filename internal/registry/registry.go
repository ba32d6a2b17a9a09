// Package registry holds the authoritative set of subscriptions and their
// last known positions. All mutations are serialized; readers get copies.
package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/model"
)

// Persister keeps a durable copy of the registry so a restart can restore it.
type Persister interface {
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	DeleteSubscription(ctx context.Context, key model.Key) error
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
}

type pair struct {
	articleID int64
	query     string
}

type entry struct {
	sub     model.Subscription
	handle  *Handle
	running bool
}

// Claim is a subscription handed to the scheduler for one check.
type Claim struct {
	Key    model.Key
	Handle *Handle
}

// Registry is the in-memory subscription set.
type Registry struct {
	// writeMu orders mutations with their write-through so the store never
	// sees a save land after the matching delete.
	writeMu sync.Mutex
	mu      sync.RWMutex
	subs    map[int64]map[pair]*entry
	drafts  map[int64]string

	persist Persister
	added   chan struct{}
	log     *zap.Logger

	nowFunc func() time.Time
}

// New creates an empty registry. persist may be nil for a memory-only registry.
func New(persist Persister) *Registry {
	return &Registry{
		subs:    make(map[int64]map[pair]*entry),
		drafts:  make(map[int64]string),
		persist: persist,
		added:   make(chan struct{}, 1),
		log:     zap.L().With(zap.String("component", "registry")),
		nowFunc: time.Now,
	}
}

// Added receives a signal after every successful Add so the scheduler can
// run the first check without waiting for its next tick.
func (r *Registry) Added() <-chan struct{} { return r.added }

// Add creates a subscription. The query is normalized first; the frequency
// must be 1..24. A second subscription to the same article and query by
// the same subscriber fails with model.ErrDuplicateSubscription.
func (r *Registry) Add(ctx context.Context, subscriberID, articleID int64, query string, frequency int) (model.Subscription, error) {
	if articleID <= 0 {
		return model.Subscription{}, &model.ValidationError{Field: "article", Reason: "must be a positive article id"}
	}
	q, err := model.NormalizeQuery(query)
	if err != nil {
		return model.Subscription{}, err
	}
	if err := model.ValidateFrequency(frequency); err != nil {
		return model.Subscription{}, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	key := pair{articleID: articleID, query: q}
	r.mu.Lock()
	if _, ok := r.subs[subscriberID][key]; ok {
		r.mu.Unlock()
		return model.Subscription{}, eris.Wrapf(model.ErrDuplicateSubscription,
			"registry: subscriber %d already tracks %d for %q", subscriberID, articleID, q)
	}
	h := newHandle()
	sub := model.Subscription{
		Key:             model.Key{SubscriberID: subscriberID, ArticleID: articleID, Query: q},
		ID:              h.ID(),
		FrequencyPerDay: frequency,
		CheckInterval:   time.Duration(model.CheckIntervalHours(frequency)) * time.Hour,
		CreatedAt:       r.nowFunc().UTC(),
	}
	r.insertLocked(&entry{sub: sub, handle: h})
	r.mu.Unlock()

	r.save(ctx, sub)
	r.log.Info("registry: subscription added",
		zap.Stringer("key", sub.Key), zap.Int("frequency", frequency))

	select {
	case r.added <- struct{}{}:
	default:
	}
	return sub, nil
}

func (r *Registry) insertLocked(e *entry) {
	bySub, ok := r.subs[e.sub.SubscriberID]
	if !ok {
		bySub = make(map[pair]*entry)
		r.subs[e.sub.SubscriberID] = bySub
	}
	bySub[pair{articleID: e.sub.ArticleID, query: e.sub.Query}] = e
}

// Remove deletes a subscription and cancels its handle. A check already in
// flight finishes but its result is discarded. Reports whether it existed.
func (r *Registry) Remove(ctx context.Context, subscriberID, articleID int64, query string) bool {
	q, err := model.NormalizeQuery(query)
	if err != nil {
		return false
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	key := pair{articleID: articleID, query: q}
	r.mu.Lock()
	e, ok := r.subs[subscriberID][key]
	if ok {
		delete(r.subs[subscriberID], key)
		if len(r.subs[subscriberID]) == 0 {
			delete(r.subs, subscriberID)
		}
		e.handle.Cancel()
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.persist != nil {
		if err := r.persist.DeleteSubscription(ctx, e.sub.Key); err != nil {
			r.log.Warn("registry: delete from store failed", zap.Stringer("key", e.sub.Key), zap.Error(err))
		}
	}
	r.log.Info("registry: subscription removed", zap.Stringer("key", e.sub.Key))
	return true
}

// Get returns a copy of one subscription.
func (r *Registry) Get(subscriberID, articleID int64, query string) (model.Subscription, bool) {
	q, err := model.NormalizeQuery(query)
	if err != nil {
		return model.Subscription{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.subs[subscriberID][pair{articleID: articleID, query: q}]
	if !ok {
		return model.Subscription{}, false
	}
	return copySub(e.sub), true
}

// List returns a subscriber's subscriptions, oldest first.
func (r *Registry) List(subscriberID int64) []model.Subscription {
	r.mu.RLock()
	out := make([]model.Subscription, 0, len(r.subs[subscriberID]))
	for _, e := range r.subs[subscriberID] {
		out = append(out, copySub(e.sub))
	}
	r.mu.RUnlock()
	sortSubs(out)
	return out
}

// All returns every subscription.
func (r *Registry) All() []model.Subscription {
	r.mu.RLock()
	var out []model.Subscription
	for _, bySub := range r.subs {
		for _, e := range bySub {
			out = append(out, copySub(e.sub))
		}
	}
	r.mu.RUnlock()
	sortSubs(out)
	return out
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, bySub := range r.subs {
		n += len(bySub)
	}
	return n
}

func sortSubs(subs []model.Subscription) {
	slices.SortFunc(subs, func(a, b model.Subscription) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.SubscriberID, b.SubscriberID),
			cmp.Compare(a.ArticleID, b.ArticleID),
			cmp.Compare(a.Query, b.Query),
		)
	})
}

func copySub(s model.Subscription) model.Subscription {
	if s.LastKnownPosition != nil {
		p := *s.LastKnownPosition
		s.LastKnownPosition = &p
	}
	return s
}

func (r *Registry) lookupLocked(key model.Key) (*entry, bool) {
	e, ok := r.subs[key.SubscriberID][pair{articleID: key.ArticleID, query: key.Query}]
	return e, ok
}

// ClaimDue marks every due, idle subscription as running with LastRunAt set
// to now and returns them. A claimed subscription is not claimed again until
// Complete or Release.
func (r *Registry) ClaimDue(now time.Time) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claims []Claim
	for _, bySub := range r.subs {
		for _, e := range bySub {
			if e.running || !e.sub.Due(now) {
				continue
			}
			e.running = true
			e.sub.LastRunAt = now
			claims = append(claims, Claim{Key: e.sub.Key, Handle: e.handle})
		}
	}
	return claims
}

// Complete records a resolved position for a claim and returns the previous
// one. applied is false when the subscription was removed (or removed and
// re-added) while the check ran; the result must then be discarded.
func (r *Registry) Complete(ctx context.Context, c Claim, position int) (previous *int, applied bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	e, ok := r.lookupLocked(c.Key)
	if !ok || e.handle != c.Handle {
		r.mu.Unlock()
		return nil, false
	}
	previous = e.sub.LastKnownPosition
	pos := position
	e.sub.LastKnownPosition = &pos
	e.running = false
	sub := copySub(e.sub)
	r.mu.Unlock()

	r.save(ctx, sub)
	return previous, true
}

// Release ends a claim without a new position.
func (r *Registry) Release(ctx context.Context, c Claim) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	e, ok := r.lookupLocked(c.Key)
	if !ok || e.handle != c.Handle {
		r.mu.Unlock()
		return
	}
	e.running = false
	sub := copySub(e.sub)
	r.mu.Unlock()

	r.save(ctx, sub)
}

func (r *Registry) save(ctx context.Context, sub model.Subscription) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveSubscription(ctx, sub); err != nil {
		r.log.Warn("registry: save to store failed", zap.Stringer("key", sub.Key), zap.Error(err))
	}
}

// Restore loads persisted subscriptions. Keys already present are kept.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.persist == nil {
		return 0, nil
	}
	subs, err := r.persist.ListSubscriptions(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "registry: restore subscriptions")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if _, ok := r.lookupLocked(sub.Key); ok {
			continue
		}
		if err := model.ValidateFrequency(sub.FrequencyPerDay); err != nil {
			r.log.Warn("registry: skipping stored subscription",
				zap.Stringer("key", sub.Key), zap.Error(err))
			continue
		}
		h := newHandle()
		if sub.ID == "" {
			sub.ID = h.ID()
		} else {
			h.id = sub.ID
		}
		sub.CheckInterval = time.Duration(model.CheckIntervalHours(sub.FrequencyPerDay)) * time.Hour
		r.insertLocked(&entry{sub: sub, handle: h})
		n++
	}
	if n > 0 {
		select {
		case r.added <- struct{}{}:
		default:
		}
	}
	return n, nil
}
