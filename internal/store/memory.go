package store

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
)

// Memory is an in-process Store. It is lost on restart and is used for
// ephemeral deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	desired logic.State
	events  []Event
	nextID  int64
	closed  bool
	err     error
}

// NewMemory returns an empty store with desired state OFF.
func NewMemory() *Memory {
	return &Memory{desired: logic.StateOff, nextID: 1}
}

// SetErr makes every subsequent operation fail with err (nil clears it).
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Memory) check() error {
	if m.closed {
		return ErrClosed
	}
	return m.err
}

// Desired returns the current desired state.
func (m *Memory) Desired(ctx context.Context) (logic.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return logic.StateOff, err
	}
	return m.desired, nil
}

// Submit replaces the desired state and appends an event under one lock.
func (m *Memory) Submit(ctx context.Context, desired logic.State, detected bool, at time.Time) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return Event{}, err
	}
	ev := Event{ID: m.nextID, Detected: detected, State: desired, Time: at.UTC()}
	m.nextID++
	m.desired = desired
	m.events = append(m.events, ev)
	return ev, nil
}

// Recent returns up to limit events, newest first.
func (m *Memory) Recent(ctx context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= len(m.events)-limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

// Ping reports the configured error, if any.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check()
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
