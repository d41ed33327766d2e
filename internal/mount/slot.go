package mount

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotClosed is returned by Wait once the publisher is gone and the caller
// has seen the final value.
var ErrSlotClosed = errors.New("progress slot closed")

// Slot holds a single current Progress value. Every Publish overwrites the
// value and wakes all waiters; no history is kept.
type Slot struct {
	mu      sync.Mutex
	value   Progress
	version uint64
	closed  bool
	changed chan struct{}
}

// NewSlot creates a slot holding initial at version 0.
func NewSlot(initial Progress) *Slot {
	return &Slot{value: initial, changed: make(chan struct{})}
}

// Publish replaces the value. Ignored after Close.
func (s *Slot) Publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value = p
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close marks the publisher as gone and wakes waiters.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.changed)
}

// Load returns the current value and its version.
func (s *Slot) Load() (Progress, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.version
}

// Closed reports whether Close has been called.
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until the version moves past seen. A value published before
// Close is still reported before ErrSlotClosed.
func (s *Slot) Wait(ctx context.Context, seen uint64) error {
	for {
		s.mu.Lock()
		if s.version != seen {
			s.mu.Unlock()
			return nil
		}
		if s.closed {
			s.mu.Unlock()
			return ErrSlotClosed
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
