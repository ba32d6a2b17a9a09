package model

import (
	"fmt"
	"time"
)

const (
	// MinFrequency and MaxFrequency bound checks per day.
	MinFrequency = 1
	MaxFrequency = 24
)

// Key identifies a subscription: one subscriber tracking one article under one query.
type Key struct {
	SubscriberID int64  `json:"subscriber_id" yaml:"subscriber_id"`
	ArticleID    int64  `json:"article_id" yaml:"article_id"`
	Query        string `json:"query" yaml:"query"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%s", k.SubscriberID, k.ArticleID, k.Query)
}

// Subscription is a tracked (subscriber, article, query) triple.
type Subscription struct {
	Key
	ID                string        `json:"id"`
	FrequencyPerDay   int           `json:"frequency_per_day"`
	CheckInterval     time.Duration `json:"check_interval"`
	LastKnownPosition *int          `json:"last_known_position,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	LastRunAt         time.Time     `json:"last_run_at,omitempty"`
}

// CheckIntervalHours returns max(1, 24/frequency) using integer division.
// Distinct frequencies may share an interval (e.g. 13..24 all map to 1).
func CheckIntervalHours(frequency int) int {
	if frequency <= 0 {
		return 24
	}
	return max(1, 24/frequency)
}

// ValidateFrequency rejects frequencies outside 1..24.
func ValidateFrequency(frequency int) error {
	if frequency < MinFrequency || frequency > MaxFrequency {
		return &ValidationError{
			Field:  "frequency",
			Reason: fmt.Sprintf("must be between %d and %d checks per day, got %d", MinFrequency, MaxFrequency, frequency),
		}
	}
	return nil
}

// Due reports whether the subscription should run at now.
// A subscription that never ran is always due.
func (s Subscription) Due(now time.Time) bool {
	if s.LastRunAt.IsZero() {
		return true
	}
	return now.Sub(s.LastRunAt) >= s.CheckInterval
}
