package gps

import (
	"context"
	"math"
	"time"

	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/state"
)

const (
	// PollInterval is the pipeline period.
	PollInterval = 500 * time.Millisecond

	// MinFixInterval and MaxFixInterval bound the gap between two fixes used
	// for distance. Shorter gaps are duplicate fixes, longer ones signal loss.
	MinFixInterval = 200 * time.Millisecond
	MaxFixInterval = 10 * time.Second

	// MinDistance (meters): smaller moves are position jitter.
	MinDistance = 1.0
)

// MaxDistance is the farthest plausible move in gap at MaxValidSpeed.
func MaxDistance(gap time.Duration) float64 {
	return state.MaxValidSpeed / 3.6 * gap.Seconds()
}

// Store is the part of the state store the pipeline uses.
type Store interface {
	DistanceMode() state.DistanceMode
	RegisterModeObserver(m *state.Mailbox[state.DistanceMode]) bool
	AddToStageDistance(m float64)
	SetSpeed(kmh float64)
	SetCap(deg uint16)
	SetAltitude(m float64)
	SetSatellites(n uint8)
	SetTime(hour, minute, second uint8)
}

type position struct {
	lat, lon float64
	at       time.Time
}

// Pipeline is the GPS fusion task state. One goroutine calls Process or Run.
type Pipeline struct {
	store   Store
	modeBox *state.Mailbox[state.DistanceMode]
	mode    state.DistanceMode

	prev    position
	hasPrev bool
}

// NewPipeline creates the pipeline and subscribes it to mode changes
// (best-effort).
func NewPipeline(store Store) *Pipeline {
	p := &Pipeline{
		store:   store,
		modeBox: state.NewMailbox[state.DistanceMode](),
		mode:    store.DistanceMode(),
	}
	if !store.RegisterModeObserver(p.modeBox) {
		monitoring.Logf("gps: mode observer registration failed")
	}
	return p
}

// Process applies one fix observed at now. The gap between two positions is
// taken from the fixes' receive times, or from now when a fix carries none.
// It returns the distance added to the stage, zero if none.
func (p *Pipeline) Process(f Fix, now time.Time) float64 {
	if mode, ok := p.modeBox.Take(); ok && mode != p.mode {
		p.mode = mode
		p.hasPrev = false
	}

	if f.TimeValid {
		p.store.SetTime(f.Hour, f.Minute, f.Second)
	}
	if f.SatellitesValid {
		p.store.SetSatellites(f.Satellites)
	}
	if f.AltitudeValid {
		p.store.SetAltitude(f.Altitude)
	}
	if f.CourseValid {
		p.store.SetCap(uint16(math.Mod(math.Round(f.Course), 360)))
	}

	if p.mode != state.GPS {
		return 0
	}
	if f.SpeedValid {
		p.store.SetSpeed(f.Speed)
	}
	if !f.LocationValid || !f.Updated {
		return 0
	}

	at := f.At
	if at.IsZero() {
		at = now
	}
	cur := position{lat: f.Latitude, lon: f.Longitude, at: at}
	prev, hadPrev := p.prev, p.hasPrev
	p.prev, p.hasPrev = cur, true

	if !hadPrev {
		return 0
	}
	gap := cur.at.Sub(prev.at)
	if gap < MinFixInterval || gap > MaxFixInterval {
		return 0
	}

	d := Distance(prev.lat, prev.lon, cur.lat, cur.lon)
	if d <= MinDistance || d >= MaxDistance(gap) {
		if d >= MaxDistance(gap) {
			monitoring.Logf("gps: rejecting %.0f m jump in %v", d, gap)
		}
		return 0
	}
	p.store.AddToStageDistance(d)
	return d
}

// Run polls src on every tick until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, tick <-chan time.Time, src Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			p.Process(src.Latest(), now)
		}
	}
}
