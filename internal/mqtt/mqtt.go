// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/trip-computer/internal/state"
)

// TopicRide is the MQTT topic for ride snapshots.
const TopicRide = "bike/trip-computer/ride"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "bike/trip-computer/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishRide sends a ride snapshot to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishRide(event RideEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// RideEvent is a ride snapshot to publish.
type RideEvent struct {
	Timestamp time.Time
	Ride      state.Snapshot
}

// RidePayload represents the MQTT message payload for ride snapshots.
type RidePayload struct {
	Ride RideBody `json:"ride"`
}

// RideBody contains the ride figures, rounded for display.
type RideBody struct {
	Timestamp   string  `json:"timestamp"`
	StageKm     float64 `json:"stage_km"`
	TotalKm     float64 `json:"total_km"`
	SpeedKmh    float64 `json:"speed_kmh"`
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
	Mode        string  `json:"mode"`
	Riding      bool    `json:"riding"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FormatRidePayload creates the JSON payload for a ride snapshot.
func FormatRidePayload(event RideEvent) ([]byte, error) {
	r := event.Ride
	payload := RidePayload{
		Ride: RideBody{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			StageKm:     round(r.StageDistance/1000, 2),
			TotalKm:     round(r.TotalDistance/1000, 2),
			SpeedKmh:    round(r.Speed, 1),
			MaxSpeedKmh: round(r.MaxSpeed, 1),
			Mode:        r.DistanceMode.String(),
			Riding:      r.Riding,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
