package logic

import "time"

// Engine converts a jittery observation stream into a stable ON/OFF signal.
// It is not safe for concurrent use: observations must be fed in arrival order
// from a single goroutine.
type Engine struct {
	cfg          Config
	current      State
	consecutive  int
	lastPositive time.Time
	counts       TransitionCounts

	// undelivered is set when the last submission did not reach the coordinator.
	undelivered bool
	lastAttempt time.Time
}

// NewEngine creates an engine in the OFF state with empty counters.
func NewEngine(cfg Config) *Engine {
	if cfg.FramesToOn < 1 {
		cfg.FramesToOn = 1
	}
	return &Engine{
		cfg:     cfg,
		current: StateOff,
	}
}

// Qualifies reports whether obs counts as a positive observation.
// NaN confidence never qualifies.
func (e *Engine) Qualifies(obs Observation) bool {
	return obs.Present && obs.Confidence >= e.cfg.OnThreshold
}

// Process applies one observation and returns a submission if, and only if,
// the observation caused a state transition.
func (e *Engine) Process(obs Observation) *Submission {
	if e.Qualifies(obs) {
		e.consecutive++
		e.lastPositive = obs.Time
		if e.current == StateOff && e.consecutive >= e.cfg.FramesToOn {
			return e.transition(StateOn, true, obs)
		}
		return nil
	}

	e.consecutive = 0
	if e.current == StateOn && e.graceExpired(obs.Time) {
		return e.transition(StateOff, false, obs)
	}
	return nil
}

// graceExpired reports whether more than OffGrace has passed since the last
// qualifying observation. A missing last positive counts as expired.
func (e *Engine) graceExpired(now time.Time) bool {
	if e.lastPositive.IsZero() {
		return true
	}
	return now.Sub(e.lastPositive) > e.cfg.OffGrace
}

func (e *Engine) transition(to State, detected bool, obs Observation) *Submission {
	e.current = to
	e.lastAttempt = obs.Time
	if to == StateOn {
		e.counts.On++
	} else {
		e.counts.Off++
	}
	return &Submission{
		Desired:    to,
		Detected:   detected,
		Confidence: obs.Confidence,
		Time:       obs.Time,
	}
}

// Acknowledge records the value the coordinator accepted. The local state is
// optimistic, so it is corrected to whatever the coordinator now holds.
func (e *Engine) Acknowledge(accepted State) {
	e.undelivered = false
	if accepted != StateOn {
		accepted = StateOff
	}
	e.current = accepted
}

// Resume adopts the state the coordinator already holds, for an engine
// started after a restart. When resuming ON the off grace runs from now, so
// an empty room turns the fan off after OffGrace. Counters are not touched.
func (e *Engine) Resume(s State, now time.Time) {
	e.consecutive = 0
	if s != StateOn {
		e.current = StateOff
		e.lastPositive = time.Time{}
		return
	}
	e.current = StateOn
	e.lastPositive = now
}

// MarkUndelivered records that the last submission failed. The local
// transition is not rolled back.
func (e *Engine) MarkUndelivered(now time.Time) {
	e.undelivered = true
	e.lastAttempt = now
}

// Undelivered reports whether the coordinator may be holding a stale value.
func (e *Engine) Undelivered() bool {
	return e.undelivered
}

// CheckReassert returns a submission repeating the current state if the last
// delivery failed and at least interval has passed since the last attempt.
// Returns nil if interval <= 0 (disabled) or the last delivery succeeded.
func (e *Engine) CheckReassert(now time.Time, interval time.Duration) *Submission {
	if interval <= 0 || !e.undelivered {
		return nil
	}
	if now.Sub(e.lastAttempt) < interval {
		return nil
	}
	e.lastAttempt = now
	return &Submission{
		Desired:  e.current,
		Detected: e.current == StateOn,
		Time:     now,
		Reassert: true,
	}
}

// CurrentState returns the engine's optimistic local state.
func (e *Engine) CurrentState() State {
	return e.current
}

// Consecutive returns the current streak of qualifying observations.
func (e *Engine) Consecutive() int {
	return e.consecutive
}

// Counts returns transition counts since startup.
func (e *Engine) Counts() TransitionCounts {
	return e.counts
}

// Config returns the engine's tuning.
func (e *Engine) Config() Config {
	return e.cfg
}
