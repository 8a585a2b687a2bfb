package session

import "sync/atomic"

// Mailbox is a single-slot, overwrite-on-store holder. Store replaces any unsent value; Take
// empties the slot. All operations are atomic, so one producer and one consumer need no lock.
type Mailbox[T any] struct {
	slot atomic.Pointer[T]
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

func (m *Mailbox[T]) Store(v T) {
	m.slot.Store(&v)
}

// Take returns the pending value and leaves the slot empty.
func (m *Mailbox[T]) Take() (T, bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func (m *Mailbox[T]) Peek() (T, bool) {
	p := m.slot.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Restore puts v back only if nothing newer was stored since it was taken.
func (m *Mailbox[T]) Restore(v T) bool {
	return m.slot.CompareAndSwap(nil, &v)
}

func (m *Mailbox[T]) Clear() bool {
	return m.slot.Swap(nil) != nil
}

func (m *Mailbox[T]) Pending() bool {
	return m.slot.Load() != nil
}
