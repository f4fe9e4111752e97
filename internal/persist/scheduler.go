// Package persist decides when dirty state is flushed to storage.
//
// Three triggers share one guarded save: a debounce deadline kept by the
// store (coalesces bursts of edits), a periodic backstop, and an eager
// request when a ride stops. The guarded save is a no-op when nothing is
// dirty or the last successful save is too recent.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/trip-computer/internal/kv"
	"github.com/sweeney/trip-computer/internal/monitoring"
	"github.com/sweeney/trip-computer/internal/state"
)

const (
	// CheckInterval is how often the debounce deadline is polled.
	CheckInterval = 250 * time.Millisecond

	// PeriodicInterval is the durability backstop.
	PeriodicInterval = 3 * time.Minute

	// MinInterval is the shortest gap between two periodic or eager saves.
	MinInterval = 10 * time.Second
)

// Store is the part of the state store the scheduler uses.
type Store interface {
	IsDirty() bool
	Pending() (state.Pending, bool)
	MarkSaved(p state.Pending) bool
	DebounceDue(now time.Time) bool
	SaveRequests() <-chan struct{}
}

// Config holds scheduler parameters. Zero values select the defaults.
type Config struct {
	// Debounce is the throttle of debounced saves. It matches the store's
	// debounce delay.
	Debounce    time.Duration
	MinInterval time.Duration
	Now         func() time.Time
}

// Scheduler runs the save triggers against one store and one storage.
type Scheduler struct {
	store   Store
	storage kv.Storage
	cfg     Config

	mu       sync.Mutex // serializes saves
	lastSave time.Time
	saves    int

	// debounced is set when the debounce deadline passed but the save was
	// throttled. Owned by the Run goroutine.
	debounced bool
}

// New creates a scheduler.
func New(store Store, storage kv.Storage, cfg Config) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = state.DebounceDelay
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = MinInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{store: store, storage: storage, cfg: cfg}
}

// Save is the guarded save. It writes every dirty field unless nothing is
// dirty or the last successful save is less than minInterval ago. Returns
// true if storage was committed.
//
// Dirty flags are cleared only after the commit succeeded, and only for
// fields not written again while the save was in progress.
func (s *Scheduler) Save(minInterval time.Duration) bool {
	saved, _ := s.save(minInterval)
	return saved
}

// save is Save that also reports a storage failure.
func (s *Scheduler) save(minInterval time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.IsDirty() {
		return false, nil
	}
	now := s.cfg.Now()
	if !s.lastSave.IsZero() && now.Sub(s.lastSave) < minInterval {
		return false, nil
	}

	pending, ok := s.store.Pending()
	if !ok {
		monitoring.Logf("persist: lock timeout, save skipped")
		return false, nil
	}
	if len(pending) == 0 {
		return false, nil
	}

	for _, e := range pending {
		var err error
		switch e.Kind {
		case state.KindFloat:
			err = s.storage.SetFloat(e.Key, e.Float)
		case state.KindInt:
			err = s.storage.SetInt(e.Key, e.Int)
		}
		if err != nil {
			monitoring.Logf("persist: set %s: %v, save aborted", e.Key, err)
			return false, err
		}
	}
	if err := s.storage.Commit(); err != nil {
		monitoring.Logf("persist: commit failed: %v", err)
		return false, err
	}

	if !s.store.MarkSaved(pending) {
		// The values are durable; the next save rewrites them.
		monitoring.Logf("persist: lock timeout, dirty flags kept")
	}
	s.lastSave = now
	s.saves++
	return true, nil
}

// Saves returns the number of successful saves.
func (s *Scheduler) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// CheckDebounce runs the debounced save if the store's deadline has passed.
// A throttled debounced save is retried on later checks until it goes
// through or nothing is dirty any more. A save that failed in storage is
// not retried here; the dirty fields wait for the next edit or the
// periodic backstop.
func (s *Scheduler) CheckDebounce(now time.Time) bool {
	if s.store.DebounceDue(now) {
		s.debounced = true
	}
	if !s.debounced {
		return false
	}
	saved, err := s.save(s.cfg.Debounce)
	if saved || err != nil || !s.store.IsDirty() {
		s.debounced = false
	}
	return saved
}

// Run drives the triggers until ctx is cancelled, then flushes once more
// without throttle. check polls the debounce deadline; periodic is the
// backstop.
func (s *Scheduler) Run(ctx context.Context, check, periodic <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			if s.Save(0) {
				monitoring.Logf("persist: final save done")
			}
			return
		case now := <-check:
			s.CheckDebounce(now)
		case <-periodic:
			s.Save(s.cfg.MinInterval)
		case <-s.store.SaveRequests():
			if s.Save(s.cfg.MinInterval) {
				monitoring.Logf("persist: ride summary saved")
			}
		}
	}
}

// Restorer is the part of the state store Load uses.
type Restorer interface {
	Restore(entries []state.Entry) bool
}

// Load reads every persisted field from storage into the store. Missing
// keys keep their defaults. Returns the number of values restored.
func Load(store Restorer, storage kv.Storage) (int, error) {
	var entries []state.Entry
	for _, f := range state.Persisted {
		e := state.Entry{Key: f.Key, Kind: f.Kind}
		var err error
		switch f.Kind {
		case state.KindFloat:
			e.Float, err = storage.GetFloat(f.Key)
		case state.KindInt:
			e.Int, err = storage.GetInt(f.Key)
		}
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			monitoring.Logf("persist: load %s: %v", f.Key, err)
			continue
		}
		entries = append(entries, e)
	}
	if !store.Restore(entries) {
		return 0, errors.New("persist: lock timeout restoring state")
	}
	return len(entries), nil
}
