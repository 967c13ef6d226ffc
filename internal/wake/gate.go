// Package wake provides the signal a sleeping build session waits on, and
// the ways it gets set: a timer at budget renewal, or an external message
// over Redis.
package wake

import (
	"context"
	"sync"
)

// Gate is a resettable one-shot signal. Set releases every current and
// future Wait until Clear is called.
type Gate struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewGate returns a cleared gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Set opens the gate. Setting an open gate is a no-op.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// IsSet reports whether the gate is open.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Wait blocks until the gate is set or ctx is done. There is no timeout.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear closes the gate again so the next Wait blocks.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.ch = make(chan struct{})
		g.set = false
	}
}

// Registry hands out one gate per session.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Gate returns the session's gate, creating it on first use.
func (r *Registry) Gate(sessionID string) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[sessionID]
	if !ok {
		g = NewGate()
		r.gates[sessionID] = g
	}
	return g
}

// Wake sets the session's gate. It returns false if no run in this process
// owns that session.
func (r *Registry) Wake(sessionID string) bool {
	r.mu.Lock()
	g, ok := r.gates[sessionID]
	r.mu.Unlock()
	if ok {
		g.Set()
	}
	return ok
}

// Release forgets a session's gate once its run has finished.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.gates, sessionID)
}
