// Package store holds the fan's desired state and its append-only event log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
)

// DefaultLimit is the size of the recent-events window.
const DefaultLimit = 50

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Event is one accepted submission. Events are never mutated after insert.
type Event struct {
	ID       int64
	Detected bool
	State    logic.State
	Time     time.Time
}

// Store persists the singleton desired state and the event log.
//
// Submit must apply both effects as one unit: a reader never sees the new
// event without the new desired state or vice versa.
type Store interface {
	// Desired returns the current desired state, OFF if never set.
	Desired(ctx context.Context) (logic.State, error)

	// Submit replaces the desired state and appends an event recording it.
	Submit(ctx context.Context, desired logic.State, detected bool, at time.Time) (Event, error)

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	Close() error
}

// clampLimit bounds limit to 1..DefaultLimit, defaulting non-positive values.
func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultLimit {
		return DefaultLimit
	}
	return limit
}
