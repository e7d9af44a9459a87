// Package coordinator is the single source of truth for the fan's desired
// state. It accepts submissions from the decision engine, records each one
// in the event log and serves desired-state reads to actuator pollers.
//
// The coordinator has no transition logic of its own; all hysteresis lives
// in the engine.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

// Notifier is told about every accepted submission.
// Accepted is called with the write lock held, in event id order, and must not block.
type Notifier interface {
	Accepted(ev store.Event, coerced bool)
}

// Result is the outcome of an accepted submission.
type Result struct {
	Accepted logic.State
	Event    store.Event
	// Coerced is true when the submitted value was not "on" or "off".
	Coerced bool
}

// Stats counts submissions since startup.
type Stats struct {
	Accepted int64
	Coerced  int64
	Failed   int64
}

// Service guards the desired state and the event append point behind a
// single-writer lock. Reads share the lock and only wait on an in-flight submit.
type Service struct {
	store     store.Store
	now       func() time.Time
	notifiers []Notifier
	log       *slog.Logger

	mu      sync.RWMutex
	desired logic.State
	stats   Stats
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the timestamp source for events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier adds a notifier for accepted submissions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service over st, loading the current desired state.
// A store with no desired state yet yields OFF.
func New(ctx context.Context, st store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store: st,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	desired, err := st.Desired(ctx)
	if err != nil {
		return nil, fmt.Errorf("load desired state: %w", err)
	}
	s.desired = desired
	return s, nil
}

// CoerceDesired maps a submitted value to a State. Unknown values fail
// toward OFF; coerced reports whether that happened.
func CoerceDesired(raw string) (state logic.State, coerced bool) {
	state, ok := logic.ParseState(raw)
	return state, !ok
}

// ReadDesired returns the last accepted desired state. It never fails.
func (s *Service) ReadDesired() logic.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desired
}

// Submit records a desired state. Unknown values are coerced to OFF rather
// than rejected. The store update, event append and cached state change are
// applied together under the write lock; on a storage error nothing changes.
func (s *Service) Submit(ctx context.Context, raw string, detected bool) (Result, error) {
	desired, coerced := CoerceDesired(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.store.Submit(ctx, desired, detected, s.now())
	if err != nil {
		s.stats.Failed++
		return Result{}, fmt.Errorf("submit %s: %w", desired, err)
	}

	prev := s.desired
	s.desired = desired
	s.stats.Accepted++
	if coerced {
		s.stats.Coerced++
		s.log.Warn("coerced unknown desired state", "raw", raw, "desired", desired)
	}
	if prev != desired {
		s.log.Info("desired state changed", "from", prev, "to", desired, "detected", detected, "id", ev.ID)
	} else {
		s.log.Debug("desired state unchanged", "desired", desired, "detected", detected, "id", ev.ID)
	}

	for _, n := range s.notifiers {
		n.Accepted(ev, coerced)
	}

	return Result{Accepted: desired, Event: ev, Coerced: coerced}, nil
}

// RecentEvents returns up to limit events, newest first. The read shares the
// lock with ReadDesired so it never observes an event ahead of the desired state.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	if events == nil {
		events = []store.Event{}
	}
	return events, nil
}

// Stats returns submission counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
