package mqtt

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/smartfan/internal/store"
)

const (
	defaultQueueSize    = 64
	defaultDrainTimeout = 5 * time.Second
)

// Notifier forwards accepted coordinator events to a Publisher from a
// background goroutine. Accepted never blocks; when the queue is full the
// event is dropped and logged.
type Notifier struct {
	pub       Publisher
	ch        chan store.Event
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewNotifier starts the drain goroutine. queueSize <= 0 uses the default.
func NewNotifier(pub Publisher, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	n := &Notifier{
		pub:  pub,
		ch:   make(chan store.Event, queueSize),
		done: make(chan struct{}),
	}
	go n.drain()
	return n
}

// Accepted implements coordinator.Notifier. Events arriving after Close
// are counted as dropped.
func (n *Notifier) Accepted(ev store.Event, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.dropped++
		slog.Warn("mqtt notifier closed, dropping event", "id", ev.ID, "state", ev.State)
		return
	}
	select {
	case n.ch <- ev:
	default:
		n.dropped++
		slog.Warn("mqtt notifier queue full, dropping event", "id", ev.ID, "state", ev.State)
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops accepting events and waits (bounded) for the queue to drain.
// It does not close the underlying Publisher.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.ch)
		n.mu.Unlock()
		select {
		case <-n.done:
		case <-time.After(defaultDrainTimeout):
			slog.Warn("mqtt notifier drain timed out")
		}
	})
}

func (n *Notifier) drain() {
	defer close(n.done)
	for ev := range n.ch {
		if err := n.pub.PublishEvent(ev); err != nil {
			slog.Warn("mqtt publish event failed", "id", ev.ID, "error", err)
		}
		if err := n.pub.PublishDesired(ev.State); err != nil {
			slog.Warn("mqtt publish desired failed", "state", ev.State, "error", err)
		}
	}
}
