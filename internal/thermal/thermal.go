// Package thermal samples the board temperature into the store.
package thermal

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/trip-computer/internal/monitoring"
)

const (
	// DefaultZone is the SoC thermal zone on Raspberry Pi boards.
	DefaultZone = "/sys/class/thermal/thermal_zone0/temp"

	// Interval is the sampling period.
	Interval = 10 * time.Second

	// StartDelay lets the board settle before the first sample.
	StartDelay = 5 * time.Second
)

// Store is the part of the state store the sampler writes to.
type Store interface {
	SetTemperature(c float64)
}

// ReadZone reads a sysfs thermal zone file (millidegrees Celsius).
func ReadZone(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(milli) / 1000, nil
}

// Sampler writes periodic temperature readings into the store.
type Sampler struct {
	store Store
	read  func() (float64, error)

	failures int
}

// NewSampler creates a sampler reading the zone file at path.
func NewSampler(store Store, path string) *Sampler {
	return &Sampler{store: store, read: func() (float64, error) { return ReadZone(path) }}
}

// Sample takes one reading. Failures are logged once per run of failures.
func (s *Sampler) Sample() {
	c, err := s.read()
	if err != nil {
		if s.failures == 0 {
			monitoring.Logf("thermal: %v", err)
		}
		s.failures++
		return
	}
	if s.failures > 0 {
		monitoring.Logf("thermal: readings back after %d failures", s.failures)
		s.failures = 0
	}
	s.store.SetTemperature(c)
}

// Run waits for start, then samples on every tick until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, start <-chan time.Time, tick <-chan time.Time) {
	select {
	case <-ctx.Done():
		return
	case <-start:
	}
	s.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.Sample()
		}
	}
}
