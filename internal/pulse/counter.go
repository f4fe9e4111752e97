// Package pulse counts wheel revolutions from reed-switch edges.
//
// Counter.Pulse runs in the edge-event context and is the only writer. The
// wheel pipeline reads with Snapshot; count and timestamp are loaded
// separately, so a reader may see them one revolution apart. Revolutions
// only grow and are bounded per update window, so that race is tolerated.
package pulse

import (
	"sync/atomic"
	"time"
)

// MinPulseInterval is the shortest gap between two counted pulses. A 2 m
// wheel at 150 km/h turns about every 48 ms; anything faster is switch bounce.
const MinPulseInterval = 20 * time.Millisecond

// Reading is a snapshot of the counter.
type Reading struct {
	Revolutions uint32
	LastPulse   time.Duration // event timestamp of the last counted pulse
}

// Counter is a debounced, lock-free revolution counter.
type Counter struct {
	minInterval int64

	revolutions atomic.Uint32
	lastPulse   atomic.Int64
}

// NewCounter creates a counter that ignores pulses closer than minInterval
// to the previously counted one. A non-positive minInterval selects
// MinPulseInterval.
func NewCounter(minInterval time.Duration) *Counter {
	if minInterval <= 0 {
		minInterval = MinPulseInterval
	}
	c := &Counter{minInterval: int64(minInterval)}
	c.lastPulse.Store(-int64(minInterval))
	return c
}

// Pulse handles one sensor edge with its event timestamp. Returns true if the
// pulse was counted. Never blocks.
func (c *Counter) Pulse(ts time.Duration) bool {
	if int64(ts)-c.lastPulse.Load() < c.minInterval {
		return false
	}
	c.lastPulse.Store(int64(ts))
	c.revolutions.Add(1)
	return true
}

// Snapshot reads the counter once.
func (c *Counter) Snapshot() Reading {
	return Reading{
		Revolutions: c.revolutions.Load(),
		LastPulse:   time.Duration(c.lastPulse.Load()),
	}
}

// Reset zeroes the revolution count. The last pulse time is kept so the
// debounce window still applies across the reset.
func (c *Counter) Reset() {
	c.revolutions.Store(0)
}
