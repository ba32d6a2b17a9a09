// Package scheduler drives the recurring position checks of every
// subscription and turns their outcomes into events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/metrics"
	"github.com/sells-group/position-tracker/internal/model"
	"github.com/sells-group/position-tracker/internal/notify"
	"github.com/sells-group/position-tracker/internal/registry"
	"github.com/sells-group/position-tracker/internal/resolver"
)

// Resolver resolves one article's position for a query.
type Resolver interface {
	Resolve(ctx context.Context, articleID int64, query string) (resolver.Resolution, error)
}

// Config configures the scheduler.
type Config struct {
	// Tick is how often due subscriptions are looked for. Default: 1s.
	Tick time.Duration
	// CycleTimeout bounds one check. Default: 5m.
	CycleTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 5 * time.Minute
	}
}

// Scheduler dispatches each due subscription in its own goroutine.
type Scheduler struct {
	registry *registry.Registry
	resolver Resolver
	sink     notify.Sink
	metrics  metrics.Recorder
	cfg      Config
	log      *zap.Logger
	wg       sync.WaitGroup

	nowFunc func() time.Time
}

// New creates a Scheduler.
func New(reg *registry.Registry, res Resolver, sink notify.Sink, rec metrics.Recorder, cfg Config) *Scheduler {
	cfg.defaults()
	if sink == nil {
		sink = notify.FanOut{}
	}
	return &Scheduler{
		registry: reg,
		resolver: res,
		sink:     sink,
		metrics:  metrics.OrNoop(rec),
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "scheduler")),
		nowFunc:  time.Now,
	}
}

// Run dispatches due subscriptions on every tick and whenever one is added.
// It blocks until ctx is cancelled and then waits for in-flight checks.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("starting tracking scheduler", zap.Duration("tick", s.cfg.Tick))

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.Dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("tracking scheduler stopped")
			return
		case <-ticker.C:
			s.Dispatch(ctx)
		case <-s.registry.Added():
			s.Dispatch(ctx)
		}
	}
}

// Dispatch starts a check for every due subscription and returns the
// number started. Checks run in the background; use Wait to join them.
func (s *Scheduler) Dispatch(ctx context.Context) int {
	s.metrics.SetSubscriptions(s.registry.Len())
	if ctx.Err() != nil {
		return 0
	}
	claims := s.registry.ClaimDue(s.nowFunc())
	for _, c := range claims {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cycle(ctx, c)
		}()
	}
	if len(claims) > 0 {
		s.log.Debug("scheduler: dispatched", zap.Int("checks", len(claims)))
	}
	return len(claims)
}

// Wait blocks until every dispatched check has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) cycle(ctx context.Context, c registry.Claim) {
	// Registry updates outlive shutdown so a finished check is not lost.
	persistCtx := context.WithoutCancel(ctx)
	released := false
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: check panicked",
				zap.Stringer("key", c.Key), zap.Any("panic", r), zap.Stack("stack"))
			if !released {
				s.registry.Release(persistCtx, c)
			}
			s.emit(ctx, c, model.Event{
				Kind:      model.EventError,
				Key:       c.Key,
				ErrorKind: "internal",
				Error:     fmt.Sprint(r),
			})
		}
	}()

	if c.Handle.Cancelled() {
		s.registry.Release(persistCtx, c)
		return
	}

	res, err := s.resolve(ctx, c.Key)
	if err != nil {
		s.registry.Release(persistCtx, c)
		released = true
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, model.ErrNotFound) {
			s.emit(ctx, c, model.Event{Kind: model.EventNotFound, Key: c.Key})
			return
		}
		s.log.Warn("scheduler: check failed", zap.Stringer("key", c.Key), zap.Error(err))
		s.emit(ctx, c, model.Event{
			Kind:      model.EventError,
			Key:       c.Key,
			ErrorKind: model.ErrorKind(err),
			Error:     err.Error(),
		})
		return
	}

	prev, applied := s.registry.Complete(persistCtx, c, res.Position)
	released = true
	if !applied {
		s.log.Debug("scheduler: discarding result of removed subscription", zap.Stringer("key", c.Key))
		return
	}
	ev, ok := model.ChangeEvent(c.Key, prev, res.Position)
	if !ok {
		return
	}
	ev.Source = res.Source
	ev.Name = res.Snapshot.Name
	ev.Price = res.Price
	s.emit(ctx, c, ev)
}

func (s *Scheduler) resolve(ctx context.Context, key model.Key) (resolver.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	return s.resolver.Resolve(ctx, key.ArticleID, key.Query)
}

// emit delivers ev unless the subscription was removed meanwhile.
func (s *Scheduler) emit(ctx context.Context, c registry.Claim, ev model.Event) {
	if c.Handle.Cancelled() {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.nowFunc().UTC()
	}
	s.metrics.Event(string(ev.Kind))
	if err := s.sink.Notify(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("scheduler: event delivery failed",
			zap.Stringer("key", c.Key), zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
