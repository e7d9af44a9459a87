// Package mqtt publishes coordinator activity to an MQTT broker and
// subscribes to observation topics, with abstractions for testing.
//
// MQTT is a notification side channel only. Actuators still poll the
// coordinator for the desired state.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

// DefaultTopicPrefix is the prefix used when none is configured.
const DefaultTopicPrefix = "home/fan"

// Topics holds the full topic names derived from a prefix.
type Topics struct {
	Events       string // one message per accepted event, QoS 0
	Desired      string // retained desired state, QoS 1
	System       string // lifecycle events and LWT
	Observations string // inbound presence observations
}

// NewTopics derives topic names from prefix. Trailing slashes are ignored.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events:       prefix + "/events",
		Desired:      prefix + "/desired",
		System:       prefix + "/system",
		Observations: prefix + "/observations",
	}
}

// Publisher publishes coordinator activity to MQTT.
// Errors are returned to the caller but must never crash the process.
type Publisher interface {
	// PublishEvent sends one accepted event.
	PublishEvent(ev store.Event) error

	// PublishDesired sends the retained desired state.
	PublishDesired(s logic.State) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (STARTUP, SHUTDOWN, OFFLINE).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// EventPayload is the MQTT message for an accepted event.
type EventPayload struct {
	Event EventPayloadInner `json:"event"`
}

// EventPayloadInner contains the event details.
type EventPayloadInner struct {
	ID       int64  `json:"id"`
	Detected bool   `json:"detected"`
	State    string `json:"state"`
	TS       string `json:"ts"`
}

// FormatEventPayload creates the JSON payload for an accepted event.
func FormatEventPayload(ev store.Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Event: EventPayloadInner{
			ID:       ev.ID,
			Detected: ev.Detected,
			State:    string(ev.State),
			TS:       ev.Time.UTC().Format(time.RFC3339),
		},
	})
}

// DesiredPayload is the retained desired-state message.
type DesiredPayload struct {
	Desired string `json:"desired"`
}

// FormatDesiredPayload creates the JSON payload for the desired state.
// Anything other than ON is published as off.
func FormatDesiredPayload(s logic.State) ([]byte, error) {
	if s != logic.StateOn {
		s = logic.StateOff
	}
	return json.Marshal(DesiredPayload{Desired: string(s)})
}

// SystemPayload is the payload for simple system events (LWT, SHUTDOWN)
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// WillPayload is the last-will message registered with the broker.
func WillPayload(connectedAt time.Time) []byte {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: connectedAt,
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	return payload
}
