package state

import "sync"

// Mailbox is a one-slot, latest-value-wins notification cell.
// Post never blocks: a value not yet taken is replaced by the new one, so a
// consumer only ever sees the most recent state.
type Mailbox[T any] struct {
	mu sync.Mutex
	ch chan T
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Post stores v, overwriting any pending value.
func (m *Mailbox[T]) Post(v T) {
	// Posters are serialized so the drain-then-send below cannot block: the
	// only other party can remove the pending value, never add one.
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.ch:
	default:
	}
	m.ch <- v
}

// Take returns the pending value, if any, without blocking.
func (m *Mailbox[T]) Take() (T, bool) {
	select {
	case v := <-m.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C returns the receive side for use in select statements.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Registry is a fixed-capacity list of subscriber mailboxes.
// A nil slot is free. Not safe for concurrent use; the Store lock guards it.
type Registry[T any] struct {
	slots [MaxObservers]*Mailbox[T]
}

// Register puts m in the first free slot. Registering a mailbox that is
// already present succeeds without using another slot. Returns false when
// every slot is taken.
func (r *Registry[T]) Register(m *Mailbox[T]) bool {
	if m == nil {
		return false
	}
	for _, s := range r.slots {
		if s == m {
			return true
		}
	}
	for i, s := range r.slots {
		if s == nil {
			r.slots[i] = m
			return true
		}
	}
	return false
}

// Notify posts v to every registered mailbox.
func (r *Registry[T]) Notify(v T) {
	for _, s := range r.slots {
		if s != nil {
			s.Post(v)
		}
	}
}

// Len returns the number of occupied slots.
func (r *Registry[T]) Len() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}
