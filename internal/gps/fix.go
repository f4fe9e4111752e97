// Package gps turns position fixes into distance, speed and telemetry.
//
// Receiver adapts NMEA sentences from the receiver into Fix values; Pipeline
// applies plausibility filtering and writes the results into the store.
package gps

import "time"

// Fix is the merged state of the receiver at one instant. Each group of
// fields carries its own validity flag since sentences arrive independently.
type Fix struct {
	Hour, Minute, Second uint8
	TimeValid            bool

	Satellites      uint8
	SatellitesValid bool

	Altitude      float64 // meters
	AltitudeValid bool

	Latitude, Longitude float64 // decimal degrees
	LocationValid       bool
	// Updated is set when the location changed since the last Latest call.
	Updated bool

	Speed      float64 // km/h
	SpeedValid bool

	Course      float64 // degrees
	CourseValid bool

	// At is the local time the location was received.
	At time.Time
}

// Source hands out the most recent fix.
type Source interface {
	Latest() Fix
}
