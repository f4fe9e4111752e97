package buttons

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/state"
)

func init() {
	monitoring.SetLogger(nil)
}

func click(c *Controller, b Button, at time.Time) {
	in := func(pressed bool, ts time.Time) Input {
		i := Input{Time: ts}
		switch b {
		case Increment:
			i.Inc = pressed
		case Decrement:
			i.Dec = pressed
		case Menu:
			i.Menu = pressed
		}
		return i
	}
	c.Process(in(true, at))
	c.Process(in(true, at.Add(DefaultDebounce)))
	c.Process(in(false, at.Add(100*time.Millisecond)))
	c.Process(in(false, at.Add(100*time.Millisecond+DefaultDebounce)))
}

func baselined(t *testing.T, s *state.Store) (*Controller, time.Time) {
	t.Helper()
	c := NewController(s, Timing{})
	c.Process(Input{Time: start})
	c.Process(Input{Time: start.Add(DefaultDebounce)})
	return c, start.Add(time.Second)
}

func TestIncrementDecrement(t *testing.T) {
	s := state.New(state.Options{})
	c, now := baselined(t, s)

	click(c, Increment, now)
	click(c, Increment, now.Add(time.Second))
	click(c, Decrement, now.Add(2*time.Second))

	if got := s.StageDistance(); got != 10 {
		t.Errorf("StageDistance: got %v, want 10", got)
	}
	if got := s.TotalDistance(); got != 20 {
		t.Errorf("TotalDistance: got %v, want 20 (decrements never subtract)", got)
	}
}

func TestMenuClickTogglesPage(t *testing.T) {
	s := state.New(state.Options{})
	c, now := baselined(t, s)

	click(c, Menu, now)
	if s.Page() != 1 {
		t.Fatalf("Page: got %d, want 1", s.Page())
	}
	click(c, Menu, now.Add(time.Second))
	if s.Page() != 0 {
		t.Errorf("Page: got %d, want 0 (wraps)", s.Page())
	}
}

func TestMenuLongPressResetsStage(t *testing.T) {
	s := state.New(state.Options{})
	s.AddToStageDistance(1234)
	c, now := baselined(t, s)

	for off := time.Duration(0); off <= DefaultDebounce+DefaultLongPress; off += SampleInterval {
		c.Process(Input{Menu: true, Time: now.Add(off)})
	}

	if got := s.StageDistance(); got != 0 {
		t.Errorf("StageDistance: got %v, want 0", got)
	}
	if got := s.TotalDistance(); got != 1234 {
		t.Errorf("TotalDistance: got %v, want 1234", got)
	}
	if s.Page() != 0 {
		t.Error("long press must not change the page")
	}
}

func TestIncrementHoldRepeats(t *testing.T) {
	s := state.New(state.Options{})
	c, now := baselined(t, s)

	d := DefaultDebounce + DefaultLongPress + 2*DefaultHoldRepeat
	for off := time.Duration(0); off <= d; off += SampleInterval {
		c.Process(Input{Inc: true, Time: now.Add(off)})
	}

	// Long start plus two repeats.
	if got := s.StageDistance(); got != 30 {
		t.Errorf("StageDistance: got %v, want 30", got)
	}
}

type level struct{ v atomic.Bool }

func (l *level) Pressed() bool { return l.v.Load() }

func TestRun(t *testing.T) {
	s := state.New(state.Options{})
	c := NewController(s, Timing{})
	inc, dec, menu := &level{}, &level{}, &level{}

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, tick, inc, dec, menu)
		close(done)
	}()

	tick <- start
	tick <- start.Add(DefaultDebounce)
	inc.v.Store(true)
	tick <- start.Add(time.Second)
	tick <- start.Add(time.Second + DefaultDebounce)
	inc.v.Store(false)
	tick <- start.Add(2 * time.Second)
	tick <- start.Add(2*time.Second + DefaultDebounce)
	cancel()
	<-done

	if got := s.StageDistance(); got != 10 {
		t.Errorf("StageDistance: got %v, want 10", got)
	}
	if got := c.Counts().Clicks; got != 1 {
		t.Errorf("Clicks: got %d, want 1", got)
	}
}
