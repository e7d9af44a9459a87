package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Desired       string       `json:"desired"`
	LastEvent     *EventJSON   `json:"last_event,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"submission_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// EventJSON is the JSON representation of the last accepted event.
type EventJSON struct {
	ID       int64  `json:"id"`
	Detected bool   `json:"detected"`
	State    string `json:"state"`
	TS       string `json:"ts"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of submission counts.
type CountsJSON struct {
	Accepted int `json:"accepted"`
	Coerced  int `json:"coerced"`
	On       int `json:"on"`
	Off      int `json:"off"`
	Failed   int `json:"storage_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of coordinator config.
type ConfigJSON struct {
	Listen      string `json:"listen"`
	DB          string `json:"db"`
	EventsLimit int    `json:"events_limit"`
	Broker      string `json:"broker,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	desired := string(snap.Desired)
	if desired == "" {
		desired = "off"
	}

	inner := StatusInner{
		Desired:       desired,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Accepted: snap.Counts.Accepted,
			Coerced:  snap.Counts.Coerced,
			On:       snap.Counts.On,
			Off:      snap.Counts.Off,
			Failed:   snap.Counts.Failed,
		},
		Config: ConfigJSON{
			Listen:      snap.Config.Listen,
			DB:          snap.Config.DB,
			EventsLimit: snap.Config.EventsLimit,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
		},
	}

	if ev := snap.LastEvent; ev != nil {
		inner.LastEvent = &EventJSON{
			ID:       ev.ID,
			Detected: ev.Detected,
			State:    string(ev.State),
			TS:       ev.Time.UTC().Format(time.RFC3339),
		}
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
