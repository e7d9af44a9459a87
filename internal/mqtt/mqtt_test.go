package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

var t0 = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   Topics
	}{
		{"home/fan", Topics{"home/fan/events", "home/fan/desired", "home/fan/system", "home/fan/observations"}},
		{"office/fan/", Topics{"office/fan/events", "office/fan/desired", "office/fan/system", "office/fan/observations"}},
		{"", Topics{"home/fan/events", "home/fan/desired", "home/fan/system", "home/fan/observations"}},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix); got != tt.want {
			t.Errorf("NewTopics(%q) = %+v, want %+v", tt.prefix, got, tt.want)
		}
	}
}

func TestFormatEventPayloadExactJSON(t *testing.T) {
	ev := store.Event{ID: 7, Detected: true, State: logic.StateOn, Time: t0}

	payload, err := FormatEventPayload(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"event":{"id":7,"detected":true,"state":"on","ts":"2026-02-02T22:18:12Z"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatEventPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ev := store.Event{ID: 1, State: logic.StateOff, Time: time.Date(2026, 2, 3, 0, 18, 12, 0, loc)}

	payload, err := FormatEventPayload(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed EventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Event.TS != "2026-02-02T22:18:12Z" {
		t.Errorf("timestamp not converted to UTC: %s", parsed.Event.TS)
	}
}

func TestFormatDesiredPayload(t *testing.T) {
	tests := []struct {
		state logic.State
		want  string
	}{
		{logic.StateOn, `{"desired":"on"}`},
		{logic.StateOff, `{"desired":"off"}`},
		{logic.State(""), `{"desired":"off"}`},
		{logic.State("ON"), `{"desired":"off"}`},
	}
	for _, tt := range tests {
		got, err := FormatDesiredPayload(tt.state)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("FormatDesiredPayload(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: t0,
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: t0, Event: "STARTUP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(payload), "reason") {
		t.Errorf("reason should be omitted: %s", payload)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not returned as-is: %s", payload)
	}
}

func TestWillPayload(t *testing.T) {
	expected := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"OFFLINE","reason":"MQTT_DISCONNECT"}}`
	if got := string(WillPayload(t0)); got != expected {
		t.Errorf("unexpected will payload:\ngot:  %s\nwant: %s", got, expected)
	}
}

func TestClientID(t *testing.T) {
	a := ClientID("")
	b := ClientID("")
	if !strings.HasPrefix(a, "smartfan-") {
		t.Errorf("expected smartfan- prefix, got %s", a)
	}
	if len(a) != len("smartfan-")+8 {
		t.Errorf("expected 8 char suffix, got %s", a)
	}
	if a == b {
		t.Errorf("client ids should differ, both %s", a)
	}
	if got := ClientID("attic"); !strings.HasPrefix(got, "attic-") {
		t.Errorf("expected attic- prefix, got %s", got)
	}
}

func TestFakePublisherRecords(t *testing.T) {
	f := NewFakePublisher()

	ev := store.Event{ID: 1, Detected: true, State: logic.StateOn, Time: t0}
	if err := f.PublishEvent(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishDesired(logic.StateOn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: t0, Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.Events(); len(got) != 1 || got[0] != ev {
		t.Errorf("events = %+v", got)
	}
	if got := f.Desired(); len(got) != 1 || got[0] != logic.StateOn {
		t.Errorf("desired = %v", got)
	}
	sys := f.SystemEvents()
	if len(sys) != 1 || !sys[0].Retained {
		t.Errorf("system events = %+v", sys)
	}
	if len(f.SystemPayloads()) != 1 {
		t.Errorf("expected 1 system payload")
	}

	f.Close()
	if !f.Closed() {
		t.Error("expected Closed after Close")
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")

	if err := f.PublishEvent(store.Event{ID: 1}); err == nil {
		t.Error("expected error from PublishEvent")
	}
	if err := f.PublishDesired(logic.StateOff); err == nil {
		t.Error("expected error from PublishDesired")
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP"}); err == nil {
		t.Error("expected error from PublishSystem")
	}
	if len(f.Events())+len(f.Desired())+len(f.SystemEvents()) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakeSubscriber(t *testing.T) {
	f := NewFakeSubscriber()

	var got []string
	if err := f.Subscribe("home/fan/observations", func(p []byte) { got = append(got, string(p)) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.Deliver("home/fan/observations", []byte("a")) {
		t.Error("expected handler for subscribed topic")
	}
	if f.Deliver("home/fan/other", []byte("b")) {
		t.Error("unexpected handler for unsubscribed topic")
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("delivered = %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifierPublishesInOrder(t *testing.T) {
	pub := NewFakePublisher()
	n := NewNotifier(pub, 0)

	states := []logic.State{logic.StateOn, logic.StateOff, logic.StateOn}
	for i, s := range states {
		n.Accepted(store.Event{ID: int64(i + 1), State: s, Time: t0}, false)
	}
	n.Close()

	events := pub.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.ID != int64(i+1) {
			t.Errorf("event %d has id %d", i, ev.ID)
		}
	}
	desired := pub.Desired()
	if len(desired) != 3 || desired[2] != logic.StateOn {
		t.Errorf("desired = %v", desired)
	}
	if pub.Closed() {
		t.Error("notifier must not close the publisher")
	}
}

func TestNotifierPublishErrorsDoNotStopDrain(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	n := NewNotifier(pub, 4)

	n.Accepted(store.Event{ID: 1, State: logic.StateOn}, false)
	n.Accepted(store.Event{ID: 2, State: logic.StateOff}, false)
	n.Close()

	if n.Dropped() != 0 {
		t.Errorf("publish errors are not drops, got %d", n.Dropped())
	}
}

// gatedPublisher blocks PublishEvent until the gate is closed.
type gatedPublisher struct {
	*FakePublisher
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedPublisher) PublishEvent(ev store.Event) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.FakePublisher.PublishEvent(ev)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	pub := &gatedPublisher{
		FakePublisher: NewFakePublisher(),
		gate:          make(chan struct{}),
		entered:       make(chan struct{}, 1),
	}
	n := NewNotifier(pub, 2)

	// First event is taken by the drain goroutine and blocks there.
	n.Accepted(store.Event{ID: 1}, false)
	<-pub.entered

	// Two fill the queue, the rest are dropped without blocking.
	done := make(chan struct{})
	go func() {
		for id := int64(2); id <= 6; id++ {
			n.Accepted(store.Event{ID: id}, false)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Accepted blocked on a full queue")
	}

	if got := n.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	close(pub.gate)
	n.Close()
	waitFor(t, func() bool { return len(pub.Events()) == 3 })
}

func TestNotifierAcceptedAfterClose(t *testing.T) {
	pub := NewFakePublisher()
	n := NewNotifier(pub, 4)
	n.Accepted(store.Event{ID: 1, State: logic.StateOn}, false)
	n.Close()

	// A late submission after shutdown must not panic.
	n.Accepted(store.Event{ID: 2, State: logic.StateOff}, false)
	n.Close()

	if got := n.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := len(pub.Events()); got != 1 {
		t.Errorf("published events = %d, want 1", got)
	}
}
