// Package session holds the process-wide completion handoff for background
// transfers. The composition root installs a handler at start; the transfer
// client signals when its last in-flight transfer settles and the handler is
// invoked once and cleared.
package session

import "sync"

type Handoff struct {
	mu      sync.Mutex
	handler func()
}

func NewHandoff() *Handoff {
	return &Handoff{}
}

// Install replaces any pending handler.
func (h *Handoff) Install(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handler = fn
}

func (h *Handoff) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.handler != nil
}

// Done invokes and clears the installed handler. It reports whether a
// handler ran.
func (h *Handoff) Done() bool {
	h.mu.Lock()
	fn := h.handler
	h.handler = nil
	h.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()

	return true
}
