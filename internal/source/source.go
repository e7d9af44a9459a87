// Package source turns external presence detector output into a stream of
// observations for the decision engine.
//
// Every source delivers on a single channel in arrival order. The engine
// loop is the only consumer.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/mqtt"
)

// ErrMalformed is wrapped by Decode for unusable input.
var ErrMalformed = errors.New("malformed observation")

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 64 * 1024

// observationJSON is the wire form shared by every source.
type observationJSON struct {
	Present    *bool    `json:"present"`
	Confidence *float64 `json:"confidence"`
	TS         string   `json:"ts"`
}

// Decode parses one observation. A missing ts uses arrival; a missing
// confidence is 1 when present and 0 otherwise.
func Decode(data []byte, arrival time.Time) (logic.Observation, error) {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return logic.Observation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Present == nil {
		return logic.Observation{}, fmt.Errorf("%w: missing present", ErrMalformed)
	}

	obs := logic.Observation{Present: *raw.Present, Time: arrival}
	switch {
	case raw.Confidence != nil:
		c := *raw.Confidence
		if c < 0 || c > 1 {
			return logic.Observation{}, fmt.Errorf("%w: confidence %v not in [0,1]", ErrMalformed, c)
		}
		obs.Confidence = c
	case obs.Present:
		obs.Confidence = 1
	}

	if raw.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.TS)
		if err != nil {
			return logic.Observation{}, fmt.Errorf("%w: ts: %v", ErrMalformed, err)
		}
		obs.Time = ts
	}
	return obs, nil
}

// NDJSON reads one observation per line from r until EOF or ctx is done,
// then closes the returned channel. Blank lines are ignored; malformed
// lines, including lines longer than maxLineBytes, are logged and skipped.
func NDJSON(ctx context.Context, r io.Reader, now func() time.Time) <-chan logic.Observation {
	out := make(chan logic.Observation)
	go func() {
		defer close(out)
		br := bufio.NewReaderSize(r, maxLineBytes)
		line := 0
		for {
			b, err := br.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				line++
				slog.Warn("skipping observation", "line", line,
					"error", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineBytes))
				err = discardLine(br)
				if err == nil {
					continue
				}
				b = nil
			}
			if len(b) > 0 {
				line++
				if !emit(ctx, out, line, bytes.TrimRight(b, "\r\n"), now) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Error("observation stream failed", "line", line, "error", err)
				}
				return
			}
		}
	}()
	return out
}

// emit decodes one line and sends it. It returns false when ctx is done.
func emit(ctx context.Context, out chan<- logic.Observation, line int, b []byte, now func() time.Time) bool {
	if len(b) == 0 {
		return true
	}
	obs, err := Decode(b, now())
	if err != nil {
		slog.Warn("skipping observation", "line", line, "error", err)
		return true
	}
	select {
	case out <- obs:
		return true
	case <-ctx.Done():
		return false
	}
}

// discardLine consumes the rest of an over-long line up to and including
// its newline.
func discardLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// MQTT subscribes to topic and delivers decoded payloads until ctx is done.
// The channel is never closed because paho may still be delivering; the
// consumer stops on ctx.
func MQTT(ctx context.Context, sub mqtt.Subscriber, topic string, now func() time.Time) (<-chan logic.Observation, error) {
	out := make(chan logic.Observation, 16)
	err := sub.Subscribe(topic, func(payload []byte) {
		obs, err := Decode(payload, now())
		if err != nil {
			slog.Warn("skipping observation", "topic", topic, "error", err)
			return
		}
		select {
		case out <- obs:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe observations: %w", err)
	}
	return out, nil
}
