package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/sweeney/trip-computer/internal/monitoring"
)

const knotsToKMH = 1.852

// Receiver merges NMEA sentences into the current Fix.
type Receiver struct {
	now func() time.Time

	mu  sync.Mutex
	fix Fix

	// bad counts sentences that failed to parse.
	bad int
}

// NewReceiver creates a receiver. A nil now selects time.Now.
func NewReceiver(now func() time.Time) *Receiver {
	if now == nil {
		now = time.Now
	}
	return &Receiver{now: now}
}

// HandleLine parses one NMEA sentence and merges it into the fix. Sentence
// types the pipeline has no use for are ignored.
func (r *Receiver) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	s, err := nmea.Parse(line)
	if err != nil {
		r.mu.Lock()
		r.bad++
		r.mu.Unlock()
		return fmt.Errorf("parse nmea: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := s.(type) {
	case nmea.RMC:
		if m.Time.Valid {
			r.fix.Hour, r.fix.Minute, r.fix.Second = uint8(m.Time.Hour), uint8(m.Time.Minute), uint8(m.Time.Second)
			r.fix.TimeValid = true
		}
		if m.Validity != nmea.ValidRMC {
			r.fix.LocationValid = false
			r.fix.SpeedValid = false
			r.fix.CourseValid = false
			return nil
		}
		r.setLocation(m.Latitude, m.Longitude)
		r.fix.Speed = m.Speed * knotsToKMH
		r.fix.SpeedValid = true
		r.fix.Course = m.Course
		r.fix.CourseValid = true
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			r.fix.AltitudeValid = false
			r.fix.Satellites = 0
			r.fix.SatellitesValid = true
			return nil
		}
		r.fix.Satellites = uint8(m.NumSatellites)
		r.fix.SatellitesValid = true
		r.fix.Altitude = m.Altitude
		r.fix.AltitudeValid = true
	case nmea.VTG:
		r.fix.Speed = m.GroundSpeedKPH
		r.fix.SpeedValid = true
		r.fix.Course = m.TrueTrack
		r.fix.CourseValid = true
	}
	return nil
}

func (r *Receiver) setLocation(lat, lon float64) {
	if !r.fix.LocationValid || lat != r.fix.Latitude || lon != r.fix.Longitude {
		r.fix.Updated = true
	}
	r.fix.Latitude, r.fix.Longitude = lat, lon
	r.fix.LocationValid = true
	r.fix.At = r.now()
}

// Latest returns the current fix and clears its Updated flag.
func (r *Receiver) Latest() Fix {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.fix
	r.fix.Updated = false
	return f
}

// Bad returns the number of sentences that failed to parse.
func (r *Receiver) Bad() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bad
}

// Run reads sentences from src until ctx is cancelled or src fails.
// Parse errors are logged and skipped.
func (r *Receiver) Run(ctx context.Context, src io.Reader) error {
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.HandleLine(sc.Text()); err != nil {
			monitoring.Logf("gps: %v", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read gps: %w", err)
	}
	return nil
}
