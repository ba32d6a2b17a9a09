package registry

import (
	"context"

	"github.com/google/uuid"
)

// Handle cancels the future checks of one subscription. A removed
// subscription's handle is cancelled; a re-added triple gets a new handle.
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func newHandle() *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{id: uuid.NewString(), ctx: ctx, cancel: cancel}
}

// ID is the subscription identifier exposed to callers.
func (h *Handle) ID() string { return h.id }

// Cancel stops scheduling. Safe to call more than once.
func (h *Handle) Cancel() { h.cancel() }

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }
