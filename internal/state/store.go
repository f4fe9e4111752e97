package state

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sweeney/trip-computer/internal/monitoring"
)

// saveable is a persisted value with its dirty flag.
type saveable[T any] struct {
	value T
	dirty bool
	rev   uint64
}

// touch marks the value as modified since the last save.
func (s *saveable[T]) touch() {
	s.dirty = true
	s.rev++
}

type record struct {
	stageDistance saveable[float64]
	totalDistance saveable[float64]
	cap           uint16
	speed         float64
	maxSpeed      saveable[float64]
	altitude      float64
	satellites    uint8
	time          Time
	timezone      saveable[int8]
	temperature   float64
	distanceMode  saveable[DistanceMode]
	wheelSize     saveable[uint16]
	brightness    saveable[uint8]
	page          saveable[uint8]

	dirty  bool
	riding bool
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		StageDistance: r.stageDistance.value,
		TotalDistance: r.totalDistance.value,
		Cap:           r.cap,
		Speed:         r.speed,
		MaxSpeed:      r.maxSpeed.value,
		Altitude:      r.altitude,
		Satellites:    r.satellites,
		Time:          r.time,
		Timezone:      r.timezone.value,
		Temperature:   r.temperature,
		DistanceMode:  r.distanceMode.value,
		WheelSize:     r.wheelSize.value,
		Brightness:    r.brightness.value,
		Page:          r.page.value,
		Dirty:         r.dirty,
		Riding:        r.riding,
	}
}

// Options configures a Store. Zero values select the package defaults.
type Options struct {
	Now         func() time.Time
	LockTimeout time.Duration
	Debounce    time.Duration
}

// Store is the concurrent state store. Create it once with New and hand the
// same *Store to every task.
type Store struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	debounce    time.Duration
	now         func() time.Time

	rec          record
	saveDeadline time.Time

	modeObservers  Registry[DistanceMode]
	wheelObservers Registry[uint16]
	saveNow        *Mailbox[struct{}]

	// cache is the snapshot published by the last write; reads that time out
	// on the lock return from it.
	cache atomic.Pointer[Snapshot]
}

// New creates a Store holding the default record.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = LockTimeout
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DebounceDelay
	}
	s := &Store{
		sem:         semaphore.NewWeighted(1),
		lockTimeout: opts.LockTimeout,
		debounce:    opts.Debounce,
		now:         opts.Now,
		saveNow:     NewMailbox[struct{}](),
	}
	s.rec.distanceMode.value = WheelSensor
	s.rec.wheelSize.value = DefaultWheelSize
	s.rec.brightness.value = DefaultBrightness
	snap := s.rec.snapshot()
	s.cache.Store(&snap)
	return s
}

func (s *Store) lock() bool {
	if s.sem.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	return s.sem.Acquire(ctx, 1) == nil
}

func (s *Store) unlock() {
	s.sem.Release(1)
}

// commit publishes the record to the read cache and releases the lock.
func (s *Store) commit() {
	snap := s.rec.snapshot()
	s.cache.Store(&snap)
	s.sem.Release(1)
}

func (s *Store) cached() *Snapshot {
	return s.cache.Load()
}

func (s *Store) dropped(op string) {
	monitoring.Logf("state: lock timeout, %s dropped", op)
}

// modified marks the record dirty and pushes the debounced save deadline.
// Caller must hold the lock.
func (s *Store) modified() {
	s.rec.dirty = true
	s.saveDeadline = s.now().Add(s.debounce)
}

// AddToStageDistance adds d meters to the stage distance, clamped at zero.
// Positive deltas also add to the total distance. Deltas within
// DistanceEpsilon are ignored.
func (s *Store) AddToStageDistance(d float64) {
	if math.IsNaN(d) || math.Abs(d) <= DistanceEpsilon {
		return
	}
	if !s.lock() {
		s.dropped("stage distance update")
		return
	}
	defer s.commit()

	old := s.rec.stageDistance.value
	stage := old + d
	if stage < 0 {
		stage = 0
	}
	s.rec.stageDistance.value = stage

	changed := false
	if d > DistanceEpsilon {
		s.rec.totalDistance.value += d
		s.rec.totalDistance.touch()
		changed = true
	}
	if math.Abs(stage-old) >= DistanceEpsilon {
		s.rec.stageDistance.touch()
		changed = true
	}
	if changed {
		s.modified()
	}
}

// ResetStageDistance sets the stage distance back to zero.
func (s *Store) ResetStageDistance() {
	if !s.lock() {
		s.dropped("stage reset")
		return
	}
	defer s.commit()

	if s.rec.stageDistance.value > 0.01 {
		s.rec.stageDistance.value = 0
		s.rec.stageDistance.touch()
		s.modified()
	}
}

// StageDistance returns the stage distance in meters.
func (s *Store) StageDistance() float64 {
	if !s.lock() {
		return s.cached().StageDistance
	}
	defer s.unlock()
	return s.rec.stageDistance.value
}

// TotalDistance returns the total distance in meters.
func (s *Store) TotalDistance() float64 {
	if !s.lock() {
		return s.cached().TotalDistance
	}
	defer s.unlock()
	return s.rec.totalDistance.value
}

// SetCap sets the heading in degrees, normalized to [0, 360).
func (s *Store) SetCap(deg uint16) {
	if !s.lock() {
		return
	}
	defer s.commit()
	s.rec.cap = deg % 360
}

// Cap returns the heading in degrees.
func (s *Store) Cap() uint16 {
	if !s.lock() {
		return s.cached().Cap
	}
	defer s.unlock()
	return s.rec.cap
}

// SetSpeed sets the current speed in km/h. Values outside [0, MaxValidSpeed)
// are noise and the whole update is dropped. The max speed follows accepted
// speeds; stopping after riding requests an immediate save.
func (s *Store) SetSpeed(v float64) {
	if math.IsNaN(v) || v < 0 || v >= MaxValidSpeed {
		return
	}
	if !s.lock() {
		return
	}
	defer s.commit()

	s.rec.speed = v

	if v > s.rec.maxSpeed.value {
		s.rec.maxSpeed.value = v
		s.rec.maxSpeed.touch()
		s.modified()
	}

	if s.rec.riding && v < SpeedEpsilon {
		monitoring.Logf("state: stopped after riding (%.1f km/h), requesting save", v)
		s.rec.riding = false
		s.saveNow.Post(struct{}{})
	}

	if !s.rec.riding && v > RidingSpeed {
		monitoring.Logf("state: riding speed reached (%.1f km/h)", v)
		s.rec.riding = true
	}
}

// Speed returns the current speed in km/h.
func (s *Store) Speed() float64 {
	if !s.lock() {
		return s.cached().Speed
	}
	defer s.unlock()
	return s.rec.speed
}

// MaxSpeed returns the highest accepted speed in km/h.
func (s *Store) MaxSpeed() float64 {
	if !s.lock() {
		return s.cached().MaxSpeed
	}
	defer s.unlock()
	return s.rec.maxSpeed.value
}

// IsRiding reports whether speed went above RidingSpeed and has not yet
// dropped back below SpeedEpsilon.
func (s *Store) IsRiding() bool {
	if !s.lock() {
		return s.cached().Riding
	}
	defer s.unlock()
	return s.rec.riding
}

// SetAltitude records the GPS altitude in meters.
func (s *Store) SetAltitude(m float64) {
	if !s.lock() {
		return
	}
	defer s.commit()
	s.rec.altitude = m
}

// Altitude returns the last GPS altitude in meters.
func (s *Store) Altitude() float64 {
	if !s.lock() {
		return s.cached().Altitude
	}
	defer s.unlock()
	return s.rec.altitude
}

// SetSatellites records the number of satellites in use.
func (s *Store) SetSatellites(n uint8) {
	if !s.lock() {
		return
	}
	defer s.commit()
	s.rec.satellites = n
}

// Satellites returns the number of satellites in use.
func (s *Store) Satellites() uint8 {
	if !s.lock() {
		return s.cached().Satellites
	}
	defer s.unlock()
	return s.rec.satellites
}

// SetTime stores the UTC time of day shifted by the configured timezone.
func (s *Store) SetTime(hour, minute, second uint8) {
	if !s.lock() {
		return
	}
	defer s.commit()
	h := (int(hour) + int(s.rec.timezone.value)) % 24
	if h < 0 {
		h += 24
	}
	s.rec.time = Time{Hour: uint8(h), Minute: minute, Second: second}
}

// Time returns the local time of day.
func (s *Store) Time() Time {
	if !s.lock() {
		return s.cached().Time
	}
	defer s.unlock()
	return s.rec.time
}

// SetTimezone sets the timezone offset in hours, clamped to [-12, 14].
func (s *Store) SetTimezone(tz int8) {
	s.updateTimezone(func(int) int { return int(tz) })
}

// AddToTimezone shifts the timezone offset by delta hours, clamped to [-12, 14].
func (s *Store) AddToTimezone(delta int8) {
	s.updateTimezone(func(cur int) int { return cur + int(delta) })
}

func (s *Store) updateTimezone(next func(int) int) {
	if !s.lock() {
		s.dropped("timezone update")
		return
	}
	defer s.commit()

	tz := next(int(s.rec.timezone.value))
	if tz < MinTimezone {
		tz = MinTimezone
	} else if tz > MaxTimezone {
		tz = MaxTimezone
	}
	if int8(tz) != s.rec.timezone.value {
		s.rec.timezone.value = int8(tz)
		s.rec.timezone.touch()
		s.modified()
	}
}

// Timezone returns the offset from UTC in hours.
func (s *Store) Timezone() int8 {
	if !s.lock() {
		return s.cached().Timezone
	}
	defer s.unlock()
	return s.rec.timezone.value
}

// SetTemperature records the board temperature in degrees Celsius.
func (s *Store) SetTemperature(c float64) {
	if !s.lock() {
		return
	}
	defer s.commit()
	s.rec.temperature = c
}

// Temperature returns the board temperature in degrees Celsius.
func (s *Store) Temperature() float64 {
	if !s.lock() {
		return s.cached().Temperature
	}
	defer s.unlock()
	return s.rec.temperature
}

// SetDistanceMode switches the distance source and notifies mode observers.
func (s *Store) SetDistanceMode(m DistanceMode) {
	if !m.Valid() {
		monitoring.Logf("state: ignoring invalid distance mode %d", uint8(m))
		return
	}
	if !s.lock() {
		s.dropped("distance mode update")
		return
	}
	defer s.commit()

	if s.rec.distanceMode.value != m {
		s.rec.distanceMode.value = m
		s.rec.distanceMode.touch()
		s.modified()
	}
	s.modeObservers.Notify(m)
}

// DistanceMode returns the current distance source.
func (s *Store) DistanceMode() DistanceMode {
	if !s.lock() {
		return s.cached().DistanceMode
	}
	defer s.unlock()
	return s.rec.distanceMode.value
}

// AddToWheelSize changes the wheel circumference by delta mm (never below
// zero) and notifies wheel-size observers.
func (s *Store) AddToWheelSize(delta int16) {
	if !s.lock() {
		s.dropped("wheel size update")
		return
	}
	defer s.commit()

	size := int(s.rec.wheelSize.value) + int(delta)
	if size < 0 {
		size = 0
	} else if size > math.MaxUint16 {
		size = math.MaxUint16
	}
	if uint16(size) != s.rec.wheelSize.value {
		s.rec.wheelSize.value = uint16(size)
		s.rec.wheelSize.touch()
		s.modified()
	}
	s.wheelObservers.Notify(s.rec.wheelSize.value)
}

// WheelSize returns the wheel circumference in mm.
func (s *Store) WheelSize() uint16 {
	if !s.lock() {
		return s.cached().WheelSize
	}
	defer s.unlock()
	return s.rec.wheelSize.value
}

// SetBrightness sets the screen brightness, capped at 100.
func (s *Store) SetBrightness(b uint8) {
	if b > 100 {
		b = 100
	}
	if !s.lock() {
		s.dropped("brightness update")
		return
	}
	defer s.commit()
	if b != s.rec.brightness.value {
		s.rec.brightness.value = b
		s.rec.brightness.touch()
		s.modified()
	}
}

// Brightness returns the display brightness, 0 to 100.
func (s *Store) Brightness() uint8 {
	if !s.lock() {
		return s.cached().Brightness
	}
	defer s.unlock()
	return s.rec.brightness.value
}

// SetPage records the main screen page.
func (s *Store) SetPage(p uint8) {
	if !s.lock() {
		s.dropped("page update")
		return
	}
	defer s.commit()
	if p != s.rec.page.value {
		s.rec.page.value = p
		s.rec.page.touch()
		s.modified()
	}
}

// Page returns the display page index.
func (s *Store) Page() uint8 {
	if !s.lock() {
		return s.cached().Page
	}
	defer s.unlock()
	return s.rec.page.value
}

// IsDirty reports whether a persisted field changed since the last save.
func (s *Store) IsDirty() bool {
	if !s.lock() {
		return s.cached().Dirty
	}
	defer s.unlock()
	return s.rec.dirty
}

// Snapshot returns a copy of the whole record taken under one lock.
func (s *Store) Snapshot() Snapshot {
	if !s.lock() {
		return *s.cached()
	}
	defer s.unlock()
	return s.rec.snapshot()
}

// RegisterModeObserver subscribes m to distance mode changes.
// Returns false if the lock timed out or the list is full.
func (s *Store) RegisterModeObserver(m *Mailbox[DistanceMode]) bool {
	if !s.lock() {
		return false
	}
	defer s.unlock()
	return s.modeObservers.Register(m)
}

// RegisterWheelSizeObserver subscribes m to wheel size changes.
// Returns false if the lock timed out or the list is full.
func (s *Store) RegisterWheelSizeObserver(m *Mailbox[uint16]) bool {
	if !s.lock() {
		return false
	}
	defer s.unlock()
	return s.wheelObservers.Register(m)
}

// DebounceDue reports whether the debounced save deadline has passed, and
// disarms it if so.
func (s *Store) DebounceDue(now time.Time) bool {
	if !s.lock() {
		return false
	}
	defer s.unlock()
	if s.saveDeadline.IsZero() || now.Before(s.saveDeadline) {
		return false
	}
	s.saveDeadline = time.Time{}
	return true
}

// SaveRequests delivers a value when a save should happen right away
// (stopping after a ride).
func (s *Store) SaveRequests() <-chan struct{} {
	return s.saveNow.C()
}
