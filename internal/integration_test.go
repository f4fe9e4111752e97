package internal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sweeney/trip-computer/internal/buttons"
	"github.com/sweeney/trip-computer/internal/gpio"
	"github.com/sweeney/trip-computer/internal/gps"
	"github.com/sweeney/trip-computer/internal/kv"
	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/mqtt"
	"github.com/sweeney/trip-computer/internal/persist"
	"github.com/sweeney/trip-computer/internal/pulse"
	"github.com/sweeney/trip-computer/internal/state"
	"github.com/sweeney/trip-computer/internal/status"
	"github.com/sweeney/trip-computer/internal/wheel"
)

var t0 = time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC)

// clock is a settable time source shared by the store and the scheduler.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// rig wires the parts the daemon wires, with fakes at the edges.
type rig struct {
	clock     *clock
	store     *state.Store
	counter   *pulse.Counter
	wheelLine *gpio.FakeWatcher
	wheel     *wheel.Pipeline
	storage   *kv.Memory
	scheduler *persist.Scheduler
}

func newRig(t *testing.T, storage *kv.Memory) *rig {
	t.Helper()
	monitoring.SetLogger(nil)

	c := &clock{now: t0}
	store := state.New(state.Options{Now: c.Now})
	if _, err := persist.Load(store, storage); err != nil {
		t.Fatalf("load: %v", err)
	}
	counter := pulse.NewCounter(0)
	return &rig{
		clock:     c,
		store:     store,
		counter:   counter,
		wheelLine: gpio.NewFakeWatcher(func(e gpio.Edge) { counter.Pulse(e.Timestamp) }),
		wheel:     wheel.New(store, counter, wheel.Config{}),
		storage:   storage,
		scheduler: persist.New(store, storage, persist.Config{Now: c.Now}),
	}
}

// ride spins the wheel n times, 100ms apart starting at ts, then runs one
// wheel loop iteration one second later.
func (r *rig) ride(t *testing.T, ts time.Duration, n int) time.Duration {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := r.wheelLine.Pulse(ts); err != nil {
			t.Fatalf("pulse: %v", err)
		}
		ts += 100 * time.Millisecond
	}
	r.clock.now = r.clock.now.Add(time.Second)
	r.wheel.Step(r.clock.now)
	return ts
}

// TestIntegrationWheelToStorage follows wheel edges through the pipeline,
// the store and a debounced save, then restores them into a fresh store.
func TestIntegrationWheelToStorage(t *testing.T) {
	storage := kv.NewMemory()
	r := newRig(t, storage)

	r.wheel.Step(r.clock.now)
	ts := r.ride(t, 0, 5)
	r.ride(t, ts, 5)

	if got := r.store.StageDistance(); got != 20 {
		t.Fatalf("stage: got %v, want 20 (10 revs x 2000 mm)", got)
	}

	// Not yet quiet long enough.
	if r.scheduler.CheckDebounce(r.clock.now.Add(time.Second)) {
		t.Fatal("save before the debounce delay")
	}
	if !r.scheduler.CheckDebounce(r.clock.now.Add(state.DebounceDelay)) {
		t.Fatal("expected a debounced save")
	}
	if r.store.IsDirty() {
		t.Error("store should be clean after the save")
	}

	stage, err := storage.GetFloat(state.KeyStageDistance)
	if err != nil || stage != 20 {
		t.Errorf("stored stage: got (%v, %v), want 20", stage, err)
	}

	// Power cycle.
	restarted := newRig(t, storage)
	if got := restarted.store.StageDistance(); got != 20 {
		t.Errorf("restored stage: got %v, want 20", got)
	}
	if got := restarted.store.TotalDistance(); got != 20 {
		t.Errorf("restored total: got %v, want 20", got)
	}
	if restarted.store.IsDirty() {
		t.Error("restoring must not mark the store dirty")
	}
}

func TestIntegrationWheelSizeChangePersists(t *testing.T) {
	storage := kv.NewMemory()
	r := newRig(t, storage)
	r.wheel.Step(r.clock.now)

	r.store.AddToWheelSize(100)
	r.ride(t, 0, 3)

	if got := r.store.StageDistance(); got != 6.3 {
		t.Errorf("stage: got %v, want 6.3 (3 revs x 2100 mm)", got)
	}

	r.scheduler.Save(0)
	size, err := storage.GetInt(state.KeyWheelSize)
	if err != nil || size != 2100 {
		t.Errorf("stored wheel size: got (%d, %v), want 2100", size, err)
	}
}

func TestIntegrationBounceIsNotARevolution(t *testing.T) {
	r := newRig(t, kv.NewMemory())
	r.wheel.Step(r.clock.now)

	// Each revolution closes the reed switch with a 5ms bounce.
	for i := 0; i < 4; i++ {
		base := time.Duration(i) * 200 * time.Millisecond
		r.wheelLine.Pulse(base)
		r.wheelLine.Pulse(base + 5*time.Millisecond)
	}
	r.clock.now = r.clock.now.Add(time.Second)
	r.wheel.Step(r.clock.now)

	if got := r.store.StageDistance(); got != 8 {
		t.Errorf("stage: got %v, want 8 (bounces ignored)", got)
	}
}

func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

// TestIntegrationModeSwitch rides on the wheel, switches to GPS the way the
// web page does, and checks only the active source counts.
func TestIntegrationModeSwitch(t *testing.T) {
	r := newRig(t, kv.NewMemory())
	receiver := gps.NewReceiver(r.clock.Now)
	gpsPipeline := gps.NewPipeline(r.store)

	r.wheel.Step(r.clock.now)
	ts := r.ride(t, 0, 5)
	if got := r.store.StageDistance(); got != 10 {
		t.Fatalf("wheel stage: got %v, want 10", got)
	}

	r.store.SetDistanceMode(state.GPS)

	// Wheel pulses no longer count.
	ts = r.ride(t, ts, 5)

	fixes := []string{
		"GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
		"GPRMC,123521,A,4807.044,N,01131.000,E,022.4,084.4,230394,003.1,W",
	}
	var gpsDistance float64
	for _, s := range fixes {
		if err := receiver.HandleLine(sentence(s)); err != nil {
			t.Fatalf("nmea: %v", err)
		}
		r.clock.now = r.clock.now.Add(2 * time.Second)
		gpsDistance += gpsPipeline.Process(receiver.Latest(), r.clock.now)
	}

	if gpsDistance < 10 || gpsDistance > 12.5 {
		t.Fatalf("gps distance: got %v, want about 11 m", gpsDistance)
	}
	if got, want := r.store.StageDistance(), 10+gpsDistance; got != want {
		t.Errorf("stage: got %v, want %v", got, want)
	}
	if !r.store.IsRiding() {
		t.Error("22.4 kn should count as riding")
	}

	// Back to the wheel: the pulses counted while in GPS mode are dropped.
	r.store.SetDistanceMode(state.WheelSensor)
	before := r.store.StageDistance()
	r.clock.now = r.clock.now.Add(time.Second)
	r.wheel.Step(r.clock.now)
	r.ride(t, ts, 2)
	if got := r.store.StageDistance() - before; got != 4 {
		t.Errorf("after switching back: got %v m, want 4", got)
	}
}

// TestIntegrationStopAfterRideSavesEagerly checks that stopping after a ride
// requests a save without waiting for the debounce.
func TestIntegrationStopAfterRideSavesEagerly(t *testing.T) {
	storage := kv.NewMemory()
	r := newRig(t, storage)

	r.store.AddToStageDistance(5000)
	r.store.SetSpeed(30)
	r.store.SetSpeed(0)

	select {
	case <-r.store.SaveRequests():
	default:
		t.Fatal("expected a save request")
	}
	if !r.scheduler.Save(persist.MinInterval) {
		t.Fatal("expected the eager save to run")
	}

	maxSpeed, err := storage.GetFloat(state.KeyMaxSpeed)
	if err != nil || maxSpeed != 30 {
		t.Errorf("stored max speed: got (%v, %v), want 30", maxSpeed, err)
	}
}

// TestIntegrationButtons drives the button lines through levels and the
// controller into the store.
func TestIntegrationButtons(t *testing.T) {
	r := newRig(t, kv.NewMemory())

	var inc, menu gpio.Level
	incLine := gpio.NewFakeWatcher(inc.Handle)
	menuLine := gpio.NewFakeWatcher(menu.Handle)
	ctrl := buttons.NewController(r.store, buttons.Timing{})

	now := t0
	sample := func(d time.Duration) {
		end := now.Add(d)
		for ; now.Before(end); now = now.Add(buttons.SampleInterval) {
			ctrl.Process(buttons.Input{Inc: inc.Pressed(), Menu: menu.Pressed(), Time: now})
		}
	}

	sample(100 * time.Millisecond) // baseline

	// Two short presses on +.
	for i := 0; i < 2; i++ {
		incLine.Emit(gpio.Edge{Rising: true})
		sample(100 * time.Millisecond)
		incLine.Emit(gpio.Edge{Rising: false})
		sample(100 * time.Millisecond)
	}
	if got := r.store.StageDistance(); got != 2*buttons.StepMeters {
		t.Fatalf("stage: got %v, want %v", got, 2*buttons.StepMeters)
	}

	// Short press on menu flips the page.
	menuLine.Emit(gpio.Edge{Rising: true})
	sample(100 * time.Millisecond)
	menuLine.Emit(gpio.Edge{Rising: false})
	sample(100 * time.Millisecond)
	if r.store.Page() != 1 {
		t.Errorf("page: got %d, want 1", r.store.Page())
	}

	// Long press on menu resets the stage.
	menuLine.Emit(gpio.Edge{Rising: true})
	sample(buttons.DefaultLongPress + 100*time.Millisecond)
	menuLine.Emit(gpio.Edge{Rising: false})
	sample(100 * time.Millisecond)
	if got := r.store.StageDistance(); got != 0 {
		t.Errorf("stage after long press: got %v, want 0", got)
	}
	if r.store.Page() != 1 {
		t.Error("long press must not flip the page")
	}

	counts := ctrl.Counts()
	if counts.Clicks != 3 || counts.LongStarts != 1 {
		t.Errorf("counts: got %+v", counts)
	}
}

// TestIntegrationHeartbeatPayload publishes a status snapshot taken from a
// live store.
func TestIntegrationHeartbeatPayload(t *testing.T) {
	r := newRig(t, kv.NewMemory())
	r.wheel.Step(r.clock.now)
	r.ride(t, 0, 5)

	tracker := status.NewTracker(t0, "boot-1", status.Config{HeartbeatMs: 60000}, r.store)
	tracker.Update(buttons.EventCounts{}, r.scheduler.Saves())
	publisher := mqtt.NewFakePublisher()

	snap := tracker.Snapshot()
	publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	})
	publisher.PublishRide(mqtt.RideEvent{Timestamp: snap.Now, Ride: snap.Ride})

	var sj status.StatusJSON
	if err := json.Unmarshal(publisher.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q", sj.Status.Event)
	}
	if sj.Status.Ride.StageDistance != 10 {
		t.Errorf("stage: got %v, want 10", sj.Status.Ride.StageDistance)
	}
	if sj.Status.Ride.DistanceMode != "WHEEL_SENSOR" {
		t.Errorf("mode: got %q", sj.Status.Ride.DistanceMode)
	}

	var ride mqtt.RidePayload
	if err := json.Unmarshal(publisher.RidePayloads[0], &ride); err != nil {
		t.Fatalf("invalid ride JSON: %v", err)
	}
	if ride.Ride.StageKm != 0.01 {
		t.Errorf("stage_km: got %v, want 0.01", ride.Ride.StageKm)
	}
}
