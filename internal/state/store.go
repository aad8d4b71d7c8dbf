// Package state provides a small observable state container. Services publish
// into stores; screens subscribe and re-render on change. It is deliberately
// decoupled from any rendering framework.
package state

import (
	"sync"

	"github.com/kianjain/shisuka/internal/observability"
)

// Store holds one observable value. The zero value is not usable; construct
// with NewStore.
type Store[T any] struct {
	mu          sync.RWMutex
	name        string
	value       T
	subscribers map[int]chan T
	nextID      int
}

// NewStore creates a store holding the initial value.
func NewStore[T any](name string, initial T) *Store[T] {
	return &Store[T]{
		name:        name,
		value:       initial,
		subscribers: make(map[int]chan T),
	}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.notifyLocked(v)
	s.mu.Unlock()
}

// Update applies fn to the current value and notifies subscribers.
func (s *Store[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	s.notifyLocked(s.value)
	s.mu.Unlock()
}

// Subscribe registers a listener. The returned channel receives every update
// published after the call; the current value is delivered immediately so new
// screens render without waiting for the next change. Call the returned
// cancel function on teardown.
func (s *Store[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	ch <- s.value
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notifyLocked sends non-blocking; a subscriber that cannot keep up misses
// intermediate values but will always observe the latest via Get.
func (s *Store[T]) notifyLocked(v T) {
	for _, ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			observability.StateDroppedUpdates.WithLabelValues(s.name).Inc()
		}
	}
}
