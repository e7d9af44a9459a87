package mqtt

import (
	"sync"

	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/store"
)

// FakePublisher records published messages for test assertions.
// It is safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	events         []store.Event
	desired        []logic.State
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishEvent records the event.
func (f *FakePublisher) PublishEvent(ev store.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, ev)
	return nil
}

// PublishDesired records the desired state.
func (f *FakePublisher) PublishDesired(s logic.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.desired = append(f.desired, s)
	return nil
}

// PublishSystem records the system event and its formatted payload.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Events returns a copy of the recorded events.
func (f *FakePublisher) Events() []store.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Event(nil), f.events...)
}

// Desired returns a copy of the recorded desired states.
func (f *FakePublisher) Desired() []logic.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.State(nil), f.desired...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeSubscriber records subscriptions and lets tests deliver payloads.
type FakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	closed   bool

	// SubscribeError, if set, is returned by Subscribe.
	SubscribeError error
}

// NewFakeSubscriber creates a FakeSubscriber for testing.
func NewFakeSubscriber() *FakeSubscriber {
	return &FakeSubscriber{handlers: make(map[string]func([]byte))}
}

// Subscribe registers handler for topic.
func (f *FakeSubscriber) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.handlers[topic] = handler
	return nil
}

// Deliver calls the handler registered for topic, if any, and reports
// whether one was found.
func (f *FakeSubscriber) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(payload)
	}
	return ok
}

// Close marks the subscriber as closed.
func (f *FakeSubscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSubscriber) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
