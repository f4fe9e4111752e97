package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/trip-computer/internal/kv"
	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/state"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, cfg Config) (*Scheduler, *state.Store, *kv.Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	st := state.New(state.Options{Now: clk.Now})
	mem := kv.NewMemory()
	cfg.Now = clk.Now
	return New(st, mem, cfg), st, mem, clk
}

func TestDebounceCoalescesBurst(t *testing.T) {
	sch, st, mem, clk := setup(t, Config{})

	for i := 0; i < 10; i++ {
		st.AddToWheelSize(1)
		clk.Advance(100 * time.Millisecond)
		if sch.CheckDebounce(clk.Now()) {
			t.Fatalf("saved during the burst at edit %d", i)
		}
	}

	clk.Advance(state.DebounceDelay)
	if !sch.CheckDebounce(clk.Now()) {
		t.Fatal("expected a save after the quiet period")
	}
	clk.Advance(time.Minute)
	sch.CheckDebounce(clk.Now())

	if got := mem.WriteCount(state.KeyWheelSize); got != 1 {
		t.Errorf("wheelSize written %d times, want 1", got)
	}
	v, err := mem.GetInt(state.KeyWheelSize)
	if err != nil || v != state.DefaultWheelSize+10 {
		t.Errorf("stored wheelSize: got %d, %v; want %d", v, err, state.DefaultWheelSize+10)
	}
	if st.IsDirty() {
		t.Error("store should be clean after the save")
	}
}

func TestThrottle(t *testing.T) {
	sch, st, mem, clk := setup(t, Config{})

	st.SetTimezone(1)
	if !sch.Save(MinInterval) {
		t.Fatal("first save should go through")
	}

	st.SetTimezone(2)
	clk.Advance(time.Second)
	if sch.Save(MinInterval) {
		t.Error("second save within the minimum interval should be skipped")
	}
	if mem.Commits != 1 {
		t.Errorf("Commits: got %d, want 1", mem.Commits)
	}

	clk.Advance(MinInterval)
	if !sch.Save(MinInterval) {
		t.Error("save after the minimum interval should go through")
	}
	if mem.Commits != 2 {
		t.Errorf("Commits: got %d, want 2", mem.Commits)
	}
}

func TestSaveSkippedWhenClean(t *testing.T) {
	sch, _, mem, _ := setup(t, Config{})

	if sch.Save(0) {
		t.Error("nothing dirty, nothing to save")
	}
	if mem.Commits != 0 {
		t.Errorf("Commits: got %d, want 0", mem.Commits)
	}
}

func TestCommitFailureKeepsDirty(t *testing.T) {
	sch, st, mem, _ := setup(t, Config{})
	mem.CommitError = errors.New("flash write failed")

	st.AddToStageDistance(250)
	if sch.Save(0) {
		t.Fatal("save should report failure")
	}
	if !st.IsDirty() {
		t.Fatal("dirty flags must survive a failed commit")
	}
	if p, _ := st.Pending(); len(p) != 2 {
		t.Errorf("expected stage and total pending, got %+v", p)
	}

	// A failed save does not count for the throttle.
	mem.CommitError = nil
	if !sch.Save(MinInterval) {
		t.Fatal("retry should save")
	}
	if st.IsDirty() {
		t.Error("store should be clean after the retry")
	}
	if f, _ := mem.GetFloat(state.KeyTotalDistance); f != 250 {
		t.Errorf("stored totalDistance: got %v, want 250", f)
	}
}

func TestDebouncedCommitFailureNotRetried(t *testing.T) {
	sch, st, mem, clk := setup(t, Config{})
	mem.CommitError = errors.New("flash write failed")

	st.AddToWheelSize(10)
	clk.Advance(state.DebounceDelay)
	for i := 0; i < 40; i++ {
		if sch.CheckDebounce(clk.Now()) {
			t.Fatalf("check %d reported a save", i)
		}
		clk.Advance(CheckInterval)
	}
	if mem.CommitAttempts != 1 {
		t.Errorf("commit attempts: got %d, want 1", mem.CommitAttempts)
	}
	if !st.IsDirty() {
		t.Fatal("dirty flags must survive the failed commit")
	}

	// The next edit arms the debounce again.
	mem.CommitError = nil
	st.AddToWheelSize(1)
	clk.Advance(state.DebounceDelay)
	if !sch.CheckDebounce(clk.Now()) {
		t.Fatal("expected a save after the next edit")
	}
	if st.IsDirty() {
		t.Error("store should be clean")
	}
}

func TestSetFailureAbortsSave(t *testing.T) {
	sch, st, mem, _ := setup(t, Config{})
	mem.SetError = errors.New("bad key")

	st.SetBrightness(30)
	if sch.Save(0) {
		t.Error("save should abort on a set error")
	}
	if !st.IsDirty() {
		t.Error("dirty flags must be kept")
	}
}

func TestThrottledDebounceRetried(t *testing.T) {
	sch, st, mem, clk := setup(t, Config{Debounce: 5 * time.Second})

	st.SetPage(1)
	sch.Save(MinInterval) // periodic save
	st.SetPage(0)

	clk.Advance(state.DebounceDelay)
	if sch.CheckDebounce(clk.Now()) {
		t.Fatal("debounced save should be throttled")
	}
	clk.Advance(time.Second)
	if sch.CheckDebounce(clk.Now()) {
		t.Fatal("still throttled")
	}
	clk.Advance(time.Second)
	if !sch.CheckDebounce(clk.Now()) {
		t.Fatal("throttled debounced save should be retried")
	}
	if v, _ := mem.GetInt(state.KeyPage); v != 0 {
		t.Errorf("stored page: got %d, want 0", v)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEagerSaveOnStop(t *testing.T) {
	sch, st, mem, _ := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sch.Run(ctx, nil, nil)
		close(done)
	}()

	st.SetSpeed(32)
	st.SetSpeed(0)

	waitFor(t, func() bool { return sch.Saves() == 1 })
	if v, _ := mem.GetFloat(state.KeyMaxSpeed); v != 32 {
		t.Errorf("stored maxSpeed: got %v, want 32", v)
	}

	cancel()
	<-done
}

func TestShutdownFlush(t *testing.T) {
	sch, st, mem, _ := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	st.SetTimezone(-4)
	sch.Save(MinInterval)
	st.SetTimezone(5) // throttled for any trigger but shutdown

	cancel()
	sch.Run(ctx, nil, nil)

	if v, _ := mem.GetInt(state.KeyTimezone); v != 5 {
		t.Errorf("stored timezone: got %d, want 5", v)
	}
}

func TestPeriodicSave(t *testing.T) {
	sch, st, mem, _ := setup(t, Config{})
	periodic := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sch.Run(ctx, nil, periodic)
		close(done)
	}()

	st.AddToStageDistance(100)
	periodic <- time.Now()
	waitFor(t, func() bool { return sch.Saves() == 1 })

	cancel()
	<-done
	if mem.Commits != 1 {
		t.Errorf("Commits: got %d, want 1", mem.Commits)
	}
}

func TestLoad(t *testing.T) {
	mem := kv.NewMemory()
	mem.SetFloat(state.KeyTotalDistance, 4200)
	mem.SetInt(state.KeyWheelSize, 2096)
	mem.SetInt(state.KeyDistanceMode, int64(state.GPS))
	mem.SetFloat(state.KeyPage, 1) // wrong kind, skipped
	mem.Commit()

	st := state.New(state.Options{})
	n, err := Load(st, mem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("restored %d values, want 3", n)
	}

	snap := st.Snapshot()
	if snap.TotalDistance != 4200 || snap.WheelSize != 2096 || snap.DistanceMode != state.GPS {
		t.Errorf("unexpected state: %+v", snap)
	}
	if snap.Page != 0 || snap.Brightness != state.DefaultBrightness {
		t.Errorf("missing keys should keep defaults: %+v", snap)
	}
	if snap.Dirty {
		t.Error("loaded state must not be dirty")
	}
}
