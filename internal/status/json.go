package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/trip-computer/internal/state"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	BootID        string       `json:"boot_id"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Ride          RideJSON     `json:"ride"`
	Presses       CountsJSON   `json:"button_counts"`
	Saves         int          `json:"saves"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// RideJSON is the JSON representation of the ride record.
type RideJSON struct {
	StageDistance float64 `json:"stage_distance_m"`
	TotalDistance float64 `json:"total_distance_m"`
	Speed         float64 `json:"speed_kmh"`
	MaxSpeed      float64 `json:"max_speed_kmh"`
	Cap           uint16  `json:"cap_deg"`
	Altitude      float64 `json:"altitude_m"`
	Satellites    uint8   `json:"satellites"`
	Time          string  `json:"time"`
	Timezone      int8    `json:"timezone"`
	Temperature   float64 `json:"temperature_c"`
	DistanceMode  string  `json:"distance_mode"`
	WheelSize     uint16  `json:"wheel_size_mm"`
	Brightness    uint8   `json:"brightness"`
	Page          uint8   `json:"page"`
	Riding        bool    `json:"riding"`
	Dirty         bool    `json:"dirty"`
}

// CountsJSON is the JSON representation of button event counts.
type CountsJSON struct {
	Clicks     int `json:"clicks"`
	LongStarts int `json:"long_starts"`
	LongHolds  int `json:"long_holds"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	WheelLoopMs int64  `json:"wheel_loop_ms"`
	GPSPollMs   int64  `json:"gps_poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	DBPath      string `json:"db_path"`
	GPSPort     string `json:"gps_port,omitempty"`
}

// BuildRide converts a ride snapshot to its JSON form.
func BuildRide(r state.Snapshot) RideJSON {
	return RideJSON{
		StageDistance: r.StageDistance,
		TotalDistance: r.TotalDistance,
		Speed:         r.Speed,
		MaxSpeed:      r.MaxSpeed,
		Cap:           r.Cap,
		Altitude:      r.Altitude,
		Satellites:    r.Satellites,
		Time:          r.Time.String(),
		Timezone:      r.Timezone,
		Temperature:   r.Temperature,
		DistanceMode:  r.DistanceMode.String(),
		WheelSize:     r.WheelSize,
		Brightness:    r.Brightness,
		Page:          r.Page,
		Riding:        r.Riding,
		Dirty:         r.Dirty,
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		BootID:        snap.BootID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Ride:          BuildRide(snap.Ride),
		Presses: CountsJSON{
			Clicks:     snap.Presses.Clicks,
			LongStarts: snap.Presses.LongStarts,
			LongHolds:  snap.Presses.LongHolds,
		},
		Saves: snap.Saves,
		Config: ConfigJSON{
			WheelLoopMs: snap.Config.WheelLoopMs,
			GPSPollMs:   snap.Config.GPSPollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			DBPath:      snap.Config.DBPath,
			GPSPort:     snap.Config.GPSPort,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
