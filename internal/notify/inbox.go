package notify

import (
	"context"
	"sync"

	"github.com/sells-group/position-tracker/internal/model"
)

// DefaultInboxSize is the number of events kept per subscriber.
const DefaultInboxSize = 100

// Inbox keeps the most recent events of every subscriber so a front-end can
// poll them. Each event gets a sequence number that increases across the
// whole inbox.
type Inbox struct {
	mu   sync.Mutex
	size int
	seq  uint64
	subs map[int64][]Delivered
}

// Delivered is an event with its inbox sequence number.
type Delivered struct {
	Seq   uint64      `json:"seq"`
	Event model.Event `json:"event"`
}

// NewInbox creates an inbox holding up to size events per subscriber.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size, subs: make(map[int64][]Delivered)}
}

func (b *Inbox) Notify(_ context.Context, ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	q := append(b.subs[ev.Key.SubscriberID], Delivered{Seq: b.seq, Event: ev})
	if len(q) > b.size {
		q = append(q[:0:0], q[len(q)-b.size:]...)
	}
	b.subs[ev.Key.SubscriberID] = q
	return nil
}

// Since returns the subscriber's events with a sequence number above after,
// oldest first.
func (b *Inbox) Since(subscriberID int64, after uint64) []Delivered {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.subs[subscriberID]
	out := make([]Delivered, 0, len(q))
	for _, d := range q {
		if d.Seq > after {
			out = append(out, d)
		}
	}
	return out
}
