// Package wheel turns reed-switch revolution counts into distance and speed.
package wheel

import (
	"context"
	"time"

	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/pulse"
	"github.com/sweeney/trip-computer/internal/state"
)

const (
	// LoopInterval is the pipeline period.
	LoopInterval = time.Second

	// MaxRevolutionsPerUpdate bounds a plausible revolution delta per loop.
	// A 2 m wheel at 150 km/h turns about 21 times a second.
	MaxRevolutionsPerUpdate = 30

	// SpeedEvery is the number of loop iterations between speed updates.
	SpeedEvery = 3
)

// Store is the part of the state store the pipeline uses.
type Store interface {
	DistanceMode() state.DistanceMode
	WheelSize() uint16
	AddToStageDistance(m float64)
	SetSpeed(kmh float64)
	RegisterModeObserver(m *state.Mailbox[state.DistanceMode]) bool
	RegisterWheelSizeObserver(m *state.Mailbox[uint16]) bool
}

// Config holds pipeline parameters. Zero values select the package defaults.
type Config struct {
	MaxRevolutions uint32
	SpeedEvery     int
}

// Pipeline is the wheel-sensor fusion task state. It is not safe for
// concurrent use; one goroutine calls Step or Run.
type Pipeline struct {
	store   Store
	counter *pulse.Counter
	cfg     Config

	modeBox  *state.Mailbox[state.DistanceMode]
	wheelBox *state.Mailbox[uint16]

	mode    state.DistanceMode
	wheelMM uint16

	lastCount      uint32 // baseline of the distance update
	speedCount     uint32 // baseline of the speed update
	speedCheckedAt time.Time
	iteration      int
}

// New creates the pipeline and subscribes it to mode and wheel size changes.
// Subscription is best-effort: when an observer list is full the pipeline
// keeps the values it read at start-up.
func New(store Store, counter *pulse.Counter, cfg Config) *Pipeline {
	if cfg.MaxRevolutions == 0 {
		cfg.MaxRevolutions = MaxRevolutionsPerUpdate
	}
	if cfg.SpeedEvery <= 0 {
		cfg.SpeedEvery = SpeedEvery
	}
	p := &Pipeline{
		store:    store,
		counter:  counter,
		cfg:      cfg,
		modeBox:  state.NewMailbox[state.DistanceMode](),
		wheelBox: state.NewMailbox[uint16](),
		mode:     store.DistanceMode(),
		wheelMM:  store.WheelSize(),
	}
	if !store.RegisterModeObserver(p.modeBox) {
		monitoring.Logf("wheel: mode observer registration failed")
	}
	if !store.RegisterWheelSizeObserver(p.wheelBox) {
		monitoring.Logf("wheel: wheel size observer registration failed")
	}
	return p
}

// Step runs one loop iteration at time now.
func (p *Pipeline) Step(now time.Time) {
	p.checkNotifications(now)

	if p.mode != state.WheelSensor {
		return
	}
	if p.speedCheckedAt.IsZero() {
		p.speedCheckedAt = now
	}

	count := p.counter.Snapshot().Revolutions
	p.updateDistance(count)

	p.iteration++
	if p.iteration >= p.cfg.SpeedEvery {
		p.iteration = 0
		p.updateSpeed(count, now)
	}
}

func (p *Pipeline) checkNotifications(now time.Time) {
	if size, ok := p.wheelBox.Take(); ok {
		p.wheelMM = size
	}
	if mode, ok := p.modeBox.Take(); ok {
		entering := mode == state.WheelSensor && p.mode != state.WheelSensor
		p.mode = mode
		if entering {
			p.reset(now)
		}
	}
}

// reset forgets every baseline so the next delta is computed against zero.
func (p *Pipeline) reset(now time.Time) {
	p.counter.Reset()
	p.lastCount = 0
	p.speedCount = 0
	p.speedCheckedAt = now
	p.iteration = 0
}

func (p *Pipeline) updateDistance(count uint32) {
	delta := count - p.lastCount
	switch {
	case delta == 0:
		return
	case delta < p.cfg.MaxRevolutions:
		m := float64(delta) * float64(p.wheelMM) / 1000
		if m <= state.DistanceEpsilon && p.wheelMM > 0 {
			// Too small for the store; keep the baseline so the
			// revolutions count with the next update.
			return
		}
		p.store.AddToStageDistance(m)
	default:
		monitoring.Logf("wheel: discarding %d revolutions in one update", delta)
	}
	// Resynchronize on discard too, or a single glitch would block every
	// later update.
	p.lastCount = count
}

func (p *Pipeline) updateSpeed(count uint32, now time.Time) {
	revs := count - p.speedCount
	elapsed := now.Sub(p.speedCheckedAt)

	var kmh float64
	if elapsed > 0 && revs > 0 && revs < p.cfg.MaxRevolutions*uint32(p.cfg.SpeedEvery) {
		kmh = float64(p.wheelMM) / 1e6 * float64(revs) / elapsed.Hours()
	}
	p.store.SetSpeed(kmh)

	p.speedCount = count
	p.speedCheckedAt = now
}

// Run calls Step on every tick until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			p.Step(now)
		}
	}
}
