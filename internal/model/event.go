package model

import "time"

// EventKind identifies what happened during a tracking cycle.
type EventKind string

const (
	EventInitial  EventKind = "initial"
	EventChanged  EventKind = "changed"
	EventNotFound EventKind = "not_found"
	EventError    EventKind = "error"
)

// Direction of a rank change. A smaller position number is better.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// PositionSource tells where a resolved position came from.
type PositionSource string

const (
	SourceCrawl   PositionSource = "crawl"
	SourceHistory PositionSource = "history"
)

// Event is delivered to the front-end after each tracking cycle that has
// something to report.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Key        Key            `json:"key"`
	Position   int            `json:"position,omitempty"`
	Previous   *int           `json:"previous,omitempty"`
	Delta      int            `json:"delta,omitempty"`
	Direction  Direction      `json:"direction,omitempty"`
	Source     PositionSource `json:"source,omitempty"`
	Name       string         `json:"name,omitempty"`
	Price      int64          `json:"price,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ChangeEvent builds the event for a resolved position given the previous
// known value. It returns false when there is nothing to report. OccurredAt
// is left for the emitter to stamp.
func ChangeEvent(key Key, previous *int, position int) (Event, bool) {
	ev := Event{Key: key, Position: position}
	if previous == nil {
		ev.Kind = EventInitial
		return ev, true
	}
	if *previous == position {
		return Event{}, false
	}
	prev := *previous
	ev.Kind = EventChanged
	ev.Previous = &prev
	change := prev - position
	if change > 0 {
		ev.Direction = DirectionUp
		ev.Delta = change
	} else {
		ev.Direction = DirectionDown
		ev.Delta = -change
	}
	return ev, true
}
