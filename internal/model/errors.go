package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNotFound means the article is absent from both the fresh crawl and
// history. It is an expected outcome, not a failure.
var ErrNotFound = eris.New("article not found")

// ErrDuplicateSubscription is returned when a subscriber already tracks the pair.
var ErrDuplicateSubscription = eris.New("subscription already exists")

// TransportError is a network or HTTP failure talking to the catalog service.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog transport: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("catalog transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is malformed input: a bad catalog page or a rejected
// subscription parameter.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError is a history or subscription store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ErrorKind names the taxonomy bucket of err for events and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case IsTransport(err):
		return "transport"
	case IsValidation(err):
		return "validation"
	case IsPersistence(err):
		return "persistence"
	default:
		return "internal"
	}
}
