package database

import (
	"context"
	"sync"
	"time"

	"github.com/satishbabariya/gorel/internal/debug"
)

// QueryEvent describes one executed statement.
type QueryEvent struct {
	Connection string
	SQL        string
	Bindings   []any
	Elapsed    time.Duration
}

// ElapsedMS returns the elapsed time in milliseconds.
func (e QueryEvent) ElapsedMS() float64 {
	return float64(e.Elapsed) / float64(time.Millisecond)
}

// Listener observes executed statements. Listeners must not block; a panicking listener is
// recovered and logged.
type Listener func(ctx context.Context, event QueryEvent)

// Events holds the query log and the listeners shared by connections.
type Events struct {
	mu        sync.RWMutex
	listeners []Listener
	logging   bool
	log       []QueryEvent
}

// NewEvents creates an empty registry with the query log disabled.
func NewEvents() *Events {
	return &Events{}
}

// Listen registers a listener.
func (e *Events) Listen(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// EnableQueryLog starts recording executed statements.
func (e *Events) EnableQueryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logging = true
}

// DisableQueryLog stops recording executed statements.
func (e *Events) DisableQueryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logging = false
}

// QueryLog returns a copy of the recorded statements.
func (e *Events) QueryLog() []QueryEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]QueryEvent(nil), e.log...)
}

// FlushQueryLog clears the recorded statements.
func (e *Events) FlushQueryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
}

// Reset removes every listener and clears the log.
func (e *Events) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
	e.log = nil
	e.logging = false
}

func (e *Events) dispatch(ctx context.Context, ev QueryEvent) {
	debug.Debug("query executed",
		"connection", ev.Connection,
		"sql", ev.SQL,
		"bindings", ev.Bindings,
		"elapsed_ms", ev.ElapsedMS())

	e.mu.Lock()
	if e.logging {
		e.log = append(e.log, ev)
	}
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, l := range listeners {
		notify(ctx, l, ev)
	}
}

func notify(ctx context.Context, l Listener, ev QueryEvent) {
	defer func() {
		if r := recover(); r != nil {
			debug.Warn("query listener panicked", "connection", ev.Connection, "panic", r)
		}
	}()
	l(ctx, ev)
}

// SlowQueryListener logs statements that take at least threshold.
func SlowQueryListener(threshold time.Duration) Listener {
	return func(_ context.Context, ev QueryEvent) {
		if ev.Elapsed >= threshold {
			debug.Warn("slow query detected",
				"connection", ev.Connection,
				"duration", ev.Elapsed,
				"sql", ev.SQL,
				"bindings", ev.Bindings)
		}
	}
}
