package actuator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/smartfan/internal/gpio"
	"github.com/sweeney/smartfan/internal/logic"
)

// scriptedReader returns scripted results in order, repeating the last.
type scriptedReader struct {
	mu    sync.Mutex
	steps []step
	i     int
}

type step struct {
	state logic.State
	err   error
}

func (r *scriptedReader) ReadDesired(ctx context.Context) (logic.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.steps[r.i]
	if r.i < len(r.steps)-1 {
		r.i++
	}
	return s.state, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollOnceWritesOnlyOnChange(t *testing.T) {
	reader := &scriptedReader{steps: []step{
		{state: logic.StateOn},
		{state: logic.StateOn},
		{state: logic.StateOn},
		{state: logic.StateOff},
		{state: logic.StateOff},
	}}
	relay := gpio.NewFakeRelay()
	p := New(reader, relay, 0, quietLogger())

	for i := 0; i < 5; i++ {
		p.PollOnce(context.Background())
	}

	writes := relay.Writes()
	if len(writes) != 2 || !writes[0] || writes[1] {
		t.Errorf("writes = %v, want [true false]", writes)
	}
	st := p.Stats()
	if st.Reads != 5 || st.Writes != 2 || st.Applied != logic.StateOff {
		t.Errorf("stats = %+v", st)
	}
}

func TestPollOnceKeepsPriorValueOnError(t *testing.T) {
	reader := &scriptedReader{steps: []step{
		{state: logic.StateOn},
		{err: errors.New("connection refused")},
		{err: errors.New("timeout")},
		{state: logic.StateOn},
	}}
	relay := gpio.NewFakeRelay()
	p := New(reader, relay, 0, quietLogger())

	for i := 0; i < 4; i++ {
		p.PollOnce(context.Background())
	}

	if !relay.On() {
		t.Error("relay should stay on through read errors")
	}
	if got := len(relay.Writes()); got != 1 {
		t.Errorf("expected 1 write, got %d", got)
	}
	if got := p.Stats().ReadErrors; got != 2 {
		t.Errorf("read errors = %d, want 2", got)
	}
}

func TestPollOnceRetriesFailedWrite(t *testing.T) {
	reader := &scriptedReader{steps: []step{{state: logic.StateOn}}}
	relay := gpio.NewFakeRelay()
	relay.SetError = errors.New("line busy")
	p := New(reader, relay, 0, quietLogger())

	p.PollOnce(context.Background())
	if p.Stats().Applied != "" {
		t.Fatalf("failed write must not be recorded as applied")
	}

	relay.SetError = nil
	p.PollOnce(context.Background())
	if !relay.On() {
		t.Error("relay should be on after retry")
	}
}

// slowReader blocks until its context ends.
type slowReader struct{}

func (slowReader) ReadDesired(ctx context.Context) (logic.State, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPollOnceTimeout(t *testing.T) {
	p := New(slowReader{}, gpio.NewFakeRelay(), 20*time.Millisecond, quietLogger())

	start := time.Now()
	p.PollOnce(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("PollOnce took %v, expected the read timeout to apply", elapsed)
	}
	if p.Stats().ReadErrors != 1 {
		t.Error("expected a read error from the timeout")
	}
}

func TestRunDrivesOffOnShutdown(t *testing.T) {
	reader := &scriptedReader{steps: []step{{state: logic.StateOn}}}
	relay := gpio.NewFakeRelay()
	p := New(reader, relay, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan error)
	go func() { done <- p.Run(ctx, tick) }()

	tick <- time.Now()
	tick <- time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	writes := relay.Writes()
	if len(writes) != 2 || !writes[0] || writes[1] {
		t.Errorf("writes = %v, want [true false]", writes)
	}
	if p.Stats().Reads != 3 {
		t.Errorf("reads = %d, want 3 (initial + 2 ticks)", p.Stats().Reads)
	}
}

func TestRunShutdownWhenAlreadyOff(t *testing.T) {
	reader := &scriptedReader{steps: []step{{state: logic.StateOff}}}
	relay := gpio.NewFakeRelay()
	p := New(reader, relay, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First poll wrote off; shutdown adds nothing.
	if writes := relay.Writes(); len(writes) != 1 || writes[0] {
		t.Errorf("writes = %v, want [false]", writes)
	}
}
