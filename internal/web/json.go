package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sweeney/smartfan/internal/store"
)

// RequestIDHeader carries a submitter-chosen id for log correlation.
const RequestIDHeader = "X-Request-Id"

// DesiredJSON is the body of GET /api/desired_state.
type DesiredJSON struct {
	Desired string `json:"desired"`
}

// SubmitRequestJSON is the body of POST /api/set_state.
type SubmitRequestJSON struct {
	Desired  string `json:"desired"`
	Detected bool   `json:"detected"`
}

// SubmitResponseJSON acknowledges an accepted submission.
type SubmitResponseJSON struct {
	OK      bool   `json:"ok"`
	Desired string `json:"desired"`
}

// ErrorJSON reports a failed request.
type ErrorJSON struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// EventJSON is one entry of GET /api/events.
type EventJSON struct {
	ID       int64  `json:"id"`
	Detected bool   `json:"detected"`
	State    string `json:"state"`
	TS       string `json:"ts"`
}

// decodeSubmit parses a submission body leniently. The body must be a JSON
// object (or null); fields of the wrong type fall back to their zero value,
// which for desired later coerces to OFF.
func decodeSubmit(r io.Reader) (SubmitRequestJSON, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return SubmitRequestJSON{}, errors.New("empty body")
		}
		return SubmitRequestJSON{}, fmt.Errorf("decode body: %w", err)
	}

	var req SubmitRequestJSON
	if raw, ok := fields["desired"]; ok {
		if err := json.Unmarshal(raw, &req.Desired); err != nil {
			req.Desired = ""
		}
	}
	if raw, ok := fields["detected"]; ok {
		if err := json.Unmarshal(raw, &req.Detected); err != nil {
			req.Detected = false
		}
	}
	return req, nil
}

// FormatEvents renders events as the JSON array served by GET /api/events.
func FormatEvents(events []store.Event) []byte {
	out := make([]EventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, EventJSON{
			ID:       ev.ID,
			Detected: ev.Detected,
			State:    string(ev.State),
			TS:       ev.Time.UTC().Format(time.RFC3339),
		})
	}
	data, _ := json.Marshal(out)
	return data
}
