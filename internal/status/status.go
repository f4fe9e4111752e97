// Package status provides a thread-safe status tracker for the trip computer
// daemon. It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/trip-computer/internal/buttons"
	"github.com/sweeney/trip-computer/internal/state"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	WheelLoopMs int64
	GPSPollMs   int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	DBPath      string
	GPSPort     string
}

// Ride is the source of the ride snapshot.
type Ride interface {
	Snapshot() state.Snapshot
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ride          state.Snapshot
	Presses       buttons.EventCounts
	Saves         int
	BootID        string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. The ride part is
// read from the store at snapshot time.
type Tracker struct {
	ride Ride

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, boot id and config.
// ride may be nil.
func NewTracker(startTime time.Time, bootID string, cfg Config, ride Ride) *Tracker {
	return &Tracker{
		ride: ride,
		snap: Snapshot{
			StartTime: startTime,
			BootID:    bootID,
			Config:    cfg,
		},
	}
}

// Update sets the button counts and the number of successful saves.
func (t *Tracker) Update(presses buttons.EventCounts, saves int) {
	t.mu.Lock()
	t.snap.Presses = presses
	t.snap.Saves = saves
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if t.ride != nil {
		s.Ride = t.ride.Snapshot()
	}
	s.Now = time.Now()
	return s
}
