package state

import "github.com/sweeney/trip-computer/internal/monitoring"

// fieldRef gives keyed access to one persisted field of the record.
type fieldRef struct {
	key   string
	kind  Kind
	dirty *bool
	rev   *uint64
	get   func() Entry
	set   func(Entry)
}

func floatRef(key string, f *saveable[float64]) fieldRef {
	return fieldRef{
		key: key, kind: KindFloat, dirty: &f.dirty, rev: &f.rev,
		get: func() Entry { return Entry{Key: key, Kind: KindFloat, Float: f.value} },
		set: func(e Entry) { f.value = e.Float },
	}
}

func intRef[T ~int8 | ~uint8 | ~uint16](key string, f *saveable[T]) fieldRef {
	return fieldRef{
		key: key, kind: KindInt, dirty: &f.dirty, rev: &f.rev,
		get: func() Entry { return Entry{Key: key, Kind: KindInt, Int: int64(f.value)} },
		set: func(e Entry) { f.value = T(e.Int) },
	}
}

func (r *record) fields() []fieldRef {
	return []fieldRef{
		floatRef(KeyStageDistance, &r.stageDistance),
		floatRef(KeyTotalDistance, &r.totalDistance),
		floatRef(KeyMaxSpeed, &r.maxSpeed),
		intRef(KeyTimezone, &r.timezone),
		intRef(KeyDistanceMode, &r.distanceMode),
		intRef(KeyWheelSize, &r.wheelSize),
		intRef(KeyBrightness, &r.brightness),
		intRef(KeyPage, &r.page),
	}
}

func (r *record) anyDirty() bool {
	for _, f := range r.fields() {
		if *f.dirty {
			return true
		}
	}
	return false
}

// Pending copies out every dirty persisted field. The second return value is
// false if the lock could not be taken.
func (s *Store) Pending() (Pending, bool) {
	if !s.lock() {
		return nil, false
	}
	defer s.unlock()

	var p Pending
	for _, f := range s.rec.fields() {
		if !*f.dirty {
			continue
		}
		e := f.get()
		e.rev = *f.rev
		p = append(p, e)
	}
	return p, true
}

// MarkSaved clears the dirty flag of every entry in p whose field was not
// written again after p was taken, then recomputes the global dirty flag.
// Returns false if the lock could not be taken; the flags then stay set.
func (s *Store) MarkSaved(p Pending) bool {
	if !s.lock() {
		return false
	}
	defer s.commit()

	refs := s.rec.fields()
	for _, e := range p {
		for _, f := range refs {
			if f.key == e.Key && *f.rev == e.rev {
				*f.dirty = false
			}
		}
	}
	s.rec.dirty = s.rec.anyDirty()
	return true
}

// Restore loads persisted values without marking anything dirty. Unknown keys
// and out-of-range values are ignored.
func (s *Store) Restore(entries []Entry) bool {
	if !s.lock() {
		return false
	}
	defer s.commit()

	refs := s.rec.fields()
	for _, e := range entries {
		if !restorable(e) {
			monitoring.Logf("state: ignoring stored %s=%v/%d", e.Key, e.Float, e.Int)
			continue
		}
		for _, f := range refs {
			if f.key == e.Key && f.kind == e.Kind {
				f.set(e)
			}
		}
	}
	return true
}

func restorable(e Entry) bool {
	switch e.Key {
	case KeyStageDistance, KeyTotalDistance, KeyMaxSpeed:
		return e.Float >= 0
	case KeyTimezone:
		return e.Int >= MinTimezone && e.Int <= MaxTimezone
	case KeyDistanceMode:
		return e.Int == int64(WheelSensor) || e.Int == int64(GPS)
	case KeyWheelSize:
		return e.Int >= 0 && e.Int <= 0xFFFF
	case KeyBrightness:
		return e.Int >= 0 && e.Int <= 100
	case KeyPage:
		return e.Int >= 0 && e.Int < PageCount
	default:
		return false
	}
}
