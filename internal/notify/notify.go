// Package notify delivers tracking events to the front-end.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/model"
)

// Sink receives tracking events.
type Sink interface {
	Notify(ctx context.Context, ev model.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.Event) error

func (f SinkFunc) Notify(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// FanOut delivers each event to every sink. Every sink is tried; the
// failures are joined.
type FanOut []Sink

func (f FanOut) Notify(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the logger.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink on the global logger.
func NewLogSink() *LogSink {
	return &LogSink{log: zap.L().With(zap.String("component", "notify"))}
}

func (s *LogSink) Notify(_ context.Context, ev model.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.Int64("subscriber_id", ev.Key.SubscriberID),
		zap.Int64("article_id", ev.Key.ArticleID),
		zap.String("query", ev.Key.Query),
	}
	switch ev.Kind {
	case model.EventInitial:
		fields = append(fields, zap.Int("position", ev.Position), zap.String("source", string(ev.Source)))
	case model.EventChanged:
		fields = append(fields,
			zap.Int("position", ev.Position),
			zap.Intp("previous", ev.Previous),
			zap.String("direction", string(ev.Direction)),
			zap.Int("delta", ev.Delta),
		)
	case model.EventError:
		s.log.Warn("tracking event", append(fields,
			zap.String("error_kind", ev.ErrorKind), zap.String("error", ev.Error))...)
		return nil
	}
	s.log.Info("tracking event", fields...)
	return nil
}
