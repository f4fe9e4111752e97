package kv

import (
	"fmt"
	"sync"
)

// Memory is an in-memory Storage for tests.
type Memory struct {
	mu        sync.Mutex
	committed map[string]value
	staged    map[string]value

	// CommitError, if set, is returned by Commit and nothing is committed.
	CommitError error
	// SetError, if set, is returned by the setters.
	SetError error

	// Commits counts successful commits.
	Commits int
	// CommitAttempts counts every Commit call, failed ones included.
	CommitAttempts int
	// Writes records every key committed, in commit order per call.
	Writes []string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		committed: make(map[string]value),
		staged:    make(map[string]value),
	}
}

func (m *Memory) get(key, kind string) (value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.committed[key]
	if !ok {
		return v, ErrNotFound
	}
	if v.kind != kind {
		return v, fmt.Errorf("get %s: %w", key, ErrKind)
	}
	return v, nil
}

func (m *Memory) GetFloat(key string) (float64, error) {
	v, err := m.get(key, kindFloat)
	return v.f, err
}

func (m *Memory) GetInt(key string) (int64, error) {
	v, err := m.get(key, kindInt)
	return v.i, err
}

func (m *Memory) SetFloat(key string, f float64) error {
	return m.set(key, value{kind: kindFloat, f: f})
}

func (m *Memory) SetInt(key string, i int64) error {
	return m.set(key, value{kind: kindInt, i: i})
}

func (m *Memory) set(key string, v value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	m.staged[key] = v
	return nil
}

func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitAttempts++
	if m.CommitError != nil {
		return m.CommitError
	}
	for k, v := range m.staged {
		m.committed[k] = v
		m.Writes = append(m.Writes, k)
	}
	m.staged = make(map[string]value)
	m.Commits++
	return nil
}

// Erase deletes every key.
func (m *Memory) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = make(map[string]value)
	m.staged = make(map[string]value)
	return nil
}

// WriteCount returns how many times key was committed.
func (m *Memory) WriteCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.Writes {
		if k == key {
			n++
		}
	}
	return n
}
