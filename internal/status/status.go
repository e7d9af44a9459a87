// Package status provides a thread-safe status tracker for the coordinator.
// It is read by HTTP handlers and the MQTT lifecycle publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains coordinator configuration for display.
type Config struct {
	Listen      string
	DB          string
	EventsLimit int
	Broker      string
	TopicPrefix string
}

// Counts tracks submissions since startup. Failed counts submissions the
// store rejected; it is filled from the coordinator at read time.
type Counts struct {
	Accepted int
	Coerced  int
	On       int
	Off      int
	Failed   int
}

// Snapshot is a point-in-time view of coordinator state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Desired       logic.State
	LastEvent     *store.Event
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the coordinator started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable coordinator state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Desired:   logic.StateOff,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetDesired sets the desired state without counting a submission.
// Used at startup with the value loaded from the store.
func (t *Tracker) SetDesired(s logic.State) {
	t.mu.Lock()
	t.snap.Desired = s
	t.mu.Unlock()
}

// Accepted records an accepted submission. It implements coordinator.Notifier.
func (t *Tracker) Accepted(ev store.Event, coerced bool) {
	t.mu.Lock()
	t.snap.Desired = ev.State
	last := ev
	t.snap.LastEvent = &last
	t.snap.Counts.Accepted++
	if coerced {
		t.snap.Counts.Coerced++
	}
	if ev.State == logic.StateOn {
		t.snap.Counts.On++
	} else {
		t.snap.Counts.Off++
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the coordinator state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
