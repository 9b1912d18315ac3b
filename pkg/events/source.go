// ABOUTME: Generic typed event source with attach and detach by handle
// ABOUTME: Each audio source and connection owns one and emits its lifecycle events through it
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives events emitted by a Source
type Listener[T any] func(T)

// Source fans events out to attached listeners
type Source[T any] struct {
	mu        sync.RWMutex
	listeners map[string]Listener[T]
	order     []string
	disposed  bool
}

// NewSource creates an empty event source
func NewSource[T any]() *Source[T] {
	return &Source[T]{listeners: make(map[string]Listener[T])}
}

// Attach registers a listener and returns a handle for Detach.
// Attaching to a disposed source is a no-op that returns an empty handle.
func (s *Source[T]) Attach(fn Listener[T]) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || fn == nil {
		return ""
	}
	id := uuid.NewString()
	s.listeners[id] = fn
	s.order = append(s.order, id)
	return id
}

// Detach removes a listener. Unknown handles are ignored.
func (s *Source[T]) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[id]; !ok {
		return
	}
	delete(s.listeners, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Emit delivers ev synchronously to every listener in attach order
func (s *Source[T]) Emit(ev T) {
	s.mu.RLock()
	if s.disposed {
		s.mu.RUnlock()
		return
	}
	fns := make([]Listener[T], 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of attached listeners
func (s *Source[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Dispose drops every listener and silences further emits
func (s *Source[T]) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = make(map[string]Listener[T])
	s.order = nil
}

// IsDisposed reports whether Dispose was called
func (s *Source[T]) IsDisposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}
