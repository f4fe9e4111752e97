package gps

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/state"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

const (
	baseLat = 48.8566
	baseLon = 2.3522
	// meters per degree of latitude
	degLat = earthRadius * math.Pi / 180
)

func fixAt(northMeters float64) Fix {
	return Fix{
		Latitude:      baseLat + northMeters/degLat,
		Longitude:     baseLon,
		LocationValid: true,
		Updated:       true,
	}
}

func gpsPipeline(t *testing.T) (*Pipeline, *state.Store) {
	t.Helper()
	s := state.New(state.Options{})
	s.SetDistanceMode(state.GPS)
	return NewPipeline(s), s
}

func TestDistance(t *testing.T) {
	d := Distance(baseLat, baseLon, baseLat+1000/degLat, baseLon)
	if math.Abs(d-1000) > 0.01 {
		t.Errorf("Distance: got %v, want 1000", d)
	}
	if d := Distance(baseLat, baseLon, baseLat, baseLon); d != 0 {
		t.Errorf("Distance to self: got %v", d)
	}
}

func TestJumpRejected(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	got := p.Process(fixAt(500), t0.Add(time.Second))

	if got != 0 || s.StageDistance() != 0 {
		t.Errorf("500 m in 1 s must be rejected, added %v (stage %v)", got, s.StageDistance())
	}
}

func TestGapUsesReceiveTime(t *testing.T) {
	p, s := gpsPipeline(t)

	// Received 1.5 s apart, polled 0.5 s apart: 30 m is plausible over
	// 1.5 s but not over 0.5 s.
	a, b := fixAt(0), fixAt(30)
	a.At = t0
	b.At = t0.Add(1500 * time.Millisecond)
	p.Process(a, t0.Add(time.Second))
	got := p.Process(b, t0.Add(1500*time.Millisecond))

	if math.Abs(got-30) > 0.01 {
		t.Fatalf("Process: added %v, want 30", got)
	}
	if math.Abs(s.StageDistance()-30) > 0.01 {
		t.Errorf("stage: got %v, want 30", s.StageDistance())
	}
}

func TestPlausibleMoveAccepted(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	got := p.Process(fixAt(2), t0.Add(2*time.Second))

	if math.Abs(got-2) > 0.01 {
		t.Fatalf("Process: added %v, want 2", got)
	}
	if math.Abs(s.StageDistance()-2) > 0.01 {
		t.Errorf("StageDistance: got %v, want 2", s.StageDistance())
	}
}

func TestPreviousPositionAlwaysAdvances(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	p.Process(fixAt(500), t0.Add(time.Second)) // rejected jump
	got := p.Process(fixAt(510), t0.Add(2*time.Second))

	// Measured from the rejected fix, not from the first one.
	if math.Abs(got-10) > 0.01 {
		t.Errorf("added %v, want 10", got)
	}
	if math.Abs(s.StageDistance()-10) > 0.01 {
		t.Errorf("StageDistance: got %v, want 10", s.StageDistance())
	}
}

func TestGapBounds(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"too fast", 100 * time.Millisecond, false},
		{"min", MinFixInterval, true},
		{"normal", time.Second, true},
		{"max", MaxFixInterval, true},
		{"signal loss", 11 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := gpsPipeline(t)
			p.Process(fixAt(0), t0)
			got := p.Process(fixAt(4), t0.Add(tt.gap))
			if (got > 0) != tt.want {
				t.Errorf("gap %v: added %v, want accepted=%v", tt.gap, got, tt.want)
			}
		})
	}
}

func TestJitterIgnored(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	p.Process(fixAt(0.8), t0.Add(time.Second))

	if s.StageDistance() != 0 {
		t.Errorf("sub-meter move must be ignored, stage %v", s.StageDistance())
	}
}

func TestNotUpdatedFixIgnored(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	f := fixAt(5)
	f.Updated = false
	p.Process(f, t0.Add(time.Second))

	if s.StageDistance() != 0 {
		t.Errorf("stale fix used for distance, stage %v", s.StageDistance())
	}
}

func TestWheelModeWritesTelemetryOnly(t *testing.T) {
	s := state.New(state.Options{})
	p := NewPipeline(s)

	f := fixAt(0)
	f.Hour, f.Minute, f.Second, f.TimeValid = 10, 20, 30, true
	f.Satellites, f.SatellitesValid = 7, true
	f.Altitude, f.AltitudeValid = 120.5, true
	f.Speed, f.SpeedValid = 22, true
	f.Course, f.CourseValid = 359.7, true
	p.Process(f, t0)
	p.Process(fixAt(5), t0.Add(time.Second))

	snap := s.Snapshot()
	if snap.Time != (state.Time{Hour: 10, Minute: 20, Second: 30}) {
		t.Errorf("Time: got %v", snap.Time)
	}
	if snap.Satellites != 7 || snap.Altitude != 120.5 {
		t.Errorf("telemetry not written: %+v", snap)
	}
	if snap.Cap != 0 {
		t.Errorf("Cap: got %d, want 0 (359.7 rounds to 360)", snap.Cap)
	}
	if snap.Speed != 0 {
		t.Errorf("Speed must not be written in wheel mode, got %v", snap.Speed)
	}
	if snap.StageDistance != 0 {
		t.Errorf("distance must not be written in wheel mode, got %v", snap.StageDistance)
	}
}

func TestSpeedWrittenInGPSMode(t *testing.T) {
	p, s := gpsPipeline(t)

	f := fixAt(0)
	f.Speed, f.SpeedValid = 28.5, true
	p.Process(f, t0)

	if s.Speed() != 28.5 {
		t.Errorf("Speed: got %v, want 28.5", s.Speed())
	}
}

func TestModeSwitchForgetsPosition(t *testing.T) {
	p, s := gpsPipeline(t)

	p.Process(fixAt(0), t0)
	s.SetDistanceMode(state.WheelSensor)
	p.Process(fixAt(3), t0.Add(time.Second))
	s.SetDistanceMode(state.GPS)

	// First fix after returning to GPS only seeds the position.
	if got := p.Process(fixAt(6), t0.Add(2*time.Second)); got != 0 {
		t.Errorf("added %v right after mode switch, want 0", got)
	}
	if got := p.Process(fixAt(9), t0.Add(3*time.Second)); math.Abs(got-3) > 0.01 {
		t.Errorf("added %v, want 3", got)
	}
}

func TestModeReadOnlyFromNotifications(t *testing.T) {
	s := state.New(state.Options{})
	// Fill the mode observer list so the pipeline cannot subscribe.
	s.RegisterModeObserver(state.NewMailbox[state.DistanceMode]())
	s.RegisterModeObserver(state.NewMailbox[state.DistanceMode]())
	p := NewPipeline(s)

	s.SetDistanceMode(state.GPS)
	p.Process(fixAt(0), t0)
	if got := p.Process(fixAt(5), t0.Add(time.Second)); got != 0 {
		t.Errorf("pipeline without notification still acted in GPS mode: added %v", got)
	}
}

type stubSource struct{ fixes []Fix }

func (s *stubSource) Latest() Fix {
	if len(s.fixes) == 0 {
		return Fix{}
	}
	f := s.fixes[0]
	s.fixes = s.fixes[1:]
	return f
}

func TestRun(t *testing.T) {
	p, s := gpsPipeline(t)
	src := &stubSource{fixes: []Fix{fixAt(0), fixAt(4)}}
	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		p.Run(ctx, tick, src)
		close(done)
	}()
	tick <- t0
	tick <- t0.Add(time.Second)
	cancel()
	<-done

	if math.Abs(s.StageDistance()-4) > 0.01 {
		t.Errorf("StageDistance: got %v, want 4", s.StageDistance())
	}
}
