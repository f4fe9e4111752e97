// Package state holds the single ride/configuration record shared by every
// task of the trip computer. All access goes through Store accessors, which
// take a bounded-wait lock and degrade (stale read, dropped write) instead of
// blocking a real-time task.
package state

import (
	"fmt"
	"time"
)

// Tuning constants.
const (
	// LockTimeout bounds how long an accessor waits for the store lock.
	LockTimeout = 50 * time.Millisecond

	// DistanceEpsilon is the smallest distance change (meters) that is applied
	// and marked dirty.
	DistanceEpsilon = 0.5

	// MaxValidSpeed (km/h): speed updates at or above it are sensor noise.
	MaxValidSpeed = 150.0

	// SpeedEpsilon (km/h): below this the bike is considered stopped.
	SpeedEpsilon = 1.0

	// RidingSpeed (km/h): above this the bike is considered riding.
	RidingSpeed = 25.0

	// DebounceDelay is the quiet period after the last dirty-marking
	// mutation before a debounced save is due.
	DebounceDelay = 3 * time.Second

	DefaultWheelSize  = 2000 // mm
	DefaultBrightness = 100

	MinTimezone = -12
	MaxTimezone = 14

	// MaxObservers is the capacity of each observer list.
	MaxObservers = 2

	// PageCount is the number of main screen pages.
	PageCount = 2
)

// DistanceMode selects where distance and speed come from.
type DistanceMode uint8

const (
	WheelSensor DistanceMode = iota // distance and speed from the wheel sensor
	GPS                             // distance and speed from GPS fixes
)

func (m DistanceMode) String() string {
	switch m {
	case WheelSensor:
		return "WHEEL_SENSOR"
	case GPS:
		return "GPS"
	default:
		return fmt.Sprintf("DistanceMode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m DistanceMode) Valid() bool {
	return m == WheelSensor || m == GPS
}

// ParseDistanceMode converts "WHEEL_SENSOR" or "GPS" into a DistanceMode.
func ParseDistanceMode(s string) (DistanceMode, error) {
	switch s {
	case "WHEEL_SENSOR", "wheel", "WHEEL":
		return WheelSensor, nil
	case "GPS", "gps":
		return GPS, nil
	default:
		return WheelSensor, fmt.Errorf("unknown distance mode %q", s)
	}
}

// Time is the local (timezone-adjusted) time of day.
type Time struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Storage keys of the persisted fields.
const (
	KeyStageDistance = "stageDistance"
	KeyTotalDistance = "totalDistance"
	KeyMaxSpeed      = "maxSpeed"
	KeyTimezone      = "timezone"
	KeyDistanceMode  = "distanceMode"
	KeyWheelSize     = "wheelSize"
	KeyBrightness    = "brightness"
	KeyPage          = "page"
)

// Kind is the storage type of a persisted field.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
)

// Field names a persisted key and its storage type.
type Field struct {
	Key  string
	Kind Kind
}

// Persisted lists every persisted field in storage order.
var Persisted = []Field{
	{KeyStageDistance, KindFloat},
	{KeyTotalDistance, KindFloat},
	{KeyMaxSpeed, KindFloat},
	{KeyTimezone, KindInt},
	{KeyDistanceMode, KindInt},
	{KeyWheelSize, KindInt},
	{KeyBrightness, KindInt},
	{KeyPage, KindInt},
}

// Entry is one persisted value copied out of the store.
// Float is used for KindFloat entries, Int for KindInt entries.
type Entry struct {
	Key   string
	Kind  Kind
	Float float64
	Int   int64

	// rev is the field revision at copy time; MarkSaved only clears the dirty
	// flag if the field was not written again since.
	rev uint64
}

// Pending is the set of dirty fields copied out for a save.
type Pending []Entry

// Snapshot is a point-in-time copy of the whole record.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StageDistance float64 // meters
	TotalDistance float64 // meters
	Cap           uint16  // degrees
	Speed         float64 // km/h
	MaxSpeed      float64 // km/h
	Altitude      float64 // meters
	Satellites    uint8
	Time          Time
	Timezone      int8
	Temperature   float64 // °C
	DistanceMode  DistanceMode
	WheelSize     uint16 // mm
	Brightness    uint8
	Page          uint8
	Dirty         bool
	Riding        bool
}
