// Package optimistic implements the tentative-mutation / commit /
// rollback pattern shared by the RSVP, chat and voting controllers.
package optimistic

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when an executor already has a command in flight.
// Re-invocation is rejected rather than queued to avoid duplicate
// submissions from double taps.
var ErrBusy = errors.New("operation already in flight")

// Command describes one optimistic interaction as a value. Tentative is
// applied synchronously before the remote call so the UI reflects the
// action immediately; Commit reconciles local state with the canonical
// result; Rollback restores the exact pre-invoke state.
type Command struct {
	Tentative func()
	Remote    func(ctx context.Context) error
	Commit    func()
	Rollback  func()
}

// Executor serialises commands for one interaction instance (one event's
// RSVP button, one chat compose box). Independent executors never block
// each other.
type Executor struct {
	mu   sync.Mutex
	busy bool
}

// Busy reports whether a command is currently in flight.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Do runs cmd: tentative mutation, remote call, then commit or rollback.
// The remote call's error is returned unchanged so callers can map it to
// user-visible messages.
func (e *Executor) Do(ctx context.Context, cmd Command) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.busy = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	if cmd.Tentative != nil {
		cmd.Tentative()
	}

	if err := cmd.Remote(ctx); err != nil {
		if cmd.Rollback != nil {
			cmd.Rollback()
		}
		return err
	}

	if cmd.Commit != nil {
		cmd.Commit()
	}
	return nil
}

// Gate is the still-mounted guard: once closed, results of in-flight
// requests are dropped instead of applied to disposed state.
type Gate struct {
	mu     sync.RWMutex
	closed bool
}

// Close marks the gate closed. It blocks until in-flight Do calls
// finish, so nothing runs after Close returns.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Do runs fn if the gate is still open and reports whether it ran.
func (g *Gate) Do(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	fn()
	return true
}
