// Package gpio delivers edge events from GPIO input lines.
// The real implementation uses the Linux GPIO character device, whose event
// handler plays the role of the interrupt handler.
// The fake implementation allows testing without hardware.
package gpio

import (
	"sync/atomic"
	"time"
)

// Edge is one transition seen on an input line.
type Edge struct {
	// Rising is true for an inactive→active transition (taking active-low
	// configuration into account).
	Rising bool
	// Timestamp is the kernel event time. Only differences are meaningful.
	Timestamp time.Duration
}

// Handler is called for every edge. It runs on the event delivery goroutine
// and must not block.
type Handler func(Edge)

// Watcher watches one input line until closed.
type Watcher interface {
	// Close stops event delivery and releases the line.
	Close() error
}

// Level follows the active state of a line from its edges. Handle is
// meant to be the Handler of a BothEdges watcher.
type Level struct {
	active atomic.Bool
}

// Handle records the level an edge leaves the line in.
func (l *Level) Handle(e Edge) {
	l.active.Store(e.Rising)
}

// Pressed reports whether the line is active.
func (l *Level) Pressed() bool {
	return l.active.Load()
}

// EdgeMode selects which transitions are reported.
type EdgeMode int

const (
	FallingEdge EdgeMode = iota
	RisingEdge
	BothEdges
)

// Options configures a watched line.
type Options struct {
	Edges EdgeMode
	// Debounce, if set, asks the kernel to debounce the line.
	Debounce time.Duration
	// ActiveLow inverts the line so a grounded input reads active.
	ActiveLow bool
}

// Defaults (BCM numbering).
const (
	DefaultChip         = "gpiochip0"
	DefaultPinWheel     = 17 // reed switch to ground
	DefaultPinIncrement = 23 // stage distance +
	DefaultPinDecrement = 24 // stage distance -
	DefaultPinMenu      = 25 // page / reset
)
