// Package kv is the flash-backed key-value store the persisted ride and
// configuration fields are saved to.
//
// Sets are staged and only become durable on Commit. Commit flushes every
// prior set together; nothing else is promised about multi-key atomicity.
package kv

import "errors"

// ErrNotFound is returned by the getters for a key that was never committed.
var ErrNotFound = errors.New("kv: key not found")

// ErrKind is returned when a key holds a value of the other kind.
var ErrKind = errors.New("kv: wrong value kind")

// Storage is the typed get/set/commit interface of the store.
type Storage interface {
	GetFloat(key string) (float64, error)
	SetFloat(key string, v float64) error
	GetInt(key string) (int64, error)
	SetInt(key string, v int64) error
	Commit() error
}

const (
	kindFloat = "float"
	kindInt   = "int"
)

type value struct {
	kind string
	f    float64
	i    int64
}
