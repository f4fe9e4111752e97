package gpio

import (
	"errors"
	"sync"
	"time"
)

// FakeWatcher is a test double that delivers scripted edges to its handler.
type FakeWatcher struct {
	mu      sync.Mutex
	handler Handler

	// Closed tracks if Close was called.
	Closed bool

	// CloseError, if set, will be returned by Close.
	CloseError error
}

// NewFakeWatcher creates a FakeWatcher delivering to h.
func NewFakeWatcher(h Handler) *FakeWatcher {
	return &FakeWatcher{handler: h}
}

// Emit delivers one edge. Edges emitted after Close are dropped.
func (f *FakeWatcher) Emit(e Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return errors.New("watcher closed")
	}
	f.handler(e)
	return nil
}

// Pulse emits a falling edge at ts.
func (f *FakeWatcher) Pulse(ts time.Duration) error {
	return f.Emit(Edge{Rising: false, Timestamp: ts})
}

// Press emits a press (rising) at down and a release (falling) at up.
func (f *FakeWatcher) Press(down, up time.Duration) error {
	if err := f.Emit(Edge{Rising: true, Timestamp: down}); err != nil {
		return err
	}
	return f.Emit(Edge{Rising: false, Timestamp: up})
}

// Close marks the watcher as closed.
func (f *FakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseError
}
