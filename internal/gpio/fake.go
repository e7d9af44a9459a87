package gpio

import "sync"

// FakeRelay is a test double that records every write.
type FakeRelay struct {
	mu     sync.Mutex
	writes []bool
	on     bool
	closed bool

	// SetError, if set, is returned by Set and the write is not recorded.
	SetError error
}

// NewFakeRelay creates a FakeRelay in the off state.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the write.
func (f *FakeRelay) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.writes = append(f.writes, on)
	f.on = on
	return nil
}

// Close drives the relay off and marks it closed.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.closed = true
	return nil
}

// Writes returns a copy of every successful Set value in order.
func (f *FakeRelay) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

// On reports the current relay state.
func (f *FakeRelay) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Closed reports whether Close was called.
func (f *FakeRelay) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
