// Package logic contains the pure presence-debounce decision logic for the fan.
// This package has NO external dependencies (no HTTP, MQTT, GPIO, OS, or time.Sleep).
// Time is always injectable via time.Time fields and parameters.
package logic

import "time"

// State represents the desired state of the fan.
type State string

const (
	StateOn  State = "on"
	StateOff State = "off"
)

// ParseState maps a wire value to a State. Anything other than exactly
// "on" or "off" is reported as not ok.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateOn:
		return StateOn, true
	case StateOff:
		return StateOff, true
	}
	return StateOff, false
}

// Observation is one presence sample from the external detector.
type Observation struct {
	Present    bool
	Confidence float64
	Time       time.Time
}

// Submission is a state change the engine wants the coordinator to record.
type Submission struct {
	Desired  State
	Detected bool
	// Confidence of the observation that triggered the transition (0 for re-asserts).
	Confidence float64
	Time       time.Time
	// Reassert is true when the submission repeats the current state after a
	// failed delivery rather than reporting a new transition.
	Reassert bool
}

// Config holds the hysteresis knobs.
type Config struct {
	// OnThreshold is the confidence below which an observation is treated as negative.
	OnThreshold float64
	// FramesToOn is the streak of qualifying observations required for OFF->ON.
	FramesToOn int
	// OffGrace is how long without a qualifying observation before ON->OFF.
	OffGrace time.Duration
}

// DefaultConfig returns the stock tuning for a person detector at a few frames per second.
func DefaultConfig() Config {
	return Config{
		OnThreshold: 0.5,
		FramesToOn:  5,
		OffGrace:    8 * time.Second,
	}
}

// TransitionCounts tracks the number of transitions since startup.
type TransitionCounts struct {
	On  int
	Off int
}
