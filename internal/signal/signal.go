// Package signal implements change notification with batching.
//
// A Signal fires registered handlers once per Dispatch. Inside Batch,
// dispatches are coalesced and the handlers run once when the outermost
// batch ends, and only if something was dispatched.
package signal

import (
	"slices"
	"sync"
)

// Signal is a set of change handlers. The zero value is ready to use.
type Signal struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func()
	depth    int
	pending  bool
}

// Add registers fn and returns a function that unregisters it.
func (s *Signal) Add(fn func()) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers == nil {
		s.handlers = make(map[int]func())
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Dispatch notifies handlers, or defers the notification while a batch is open.
func (s *Signal) Dispatch() {
	s.mu.Lock()
	if s.depth > 0 {
		s.pending = true
		s.mu.Unlock()
		return
	}
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Batch runs fn with notifications suppressed and fires at most one
// notification afterwards. Batches nest.
func (s *Signal) Batch(fn func()) {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.depth--
		if s.depth > 0 || !s.pending {
			s.mu.Unlock()
			return
		}
		s.pending = false
		fns := s.snapshot()
		s.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
	}()

	fn()
}

// Len returns the number of registered handlers.
func (s *Signal) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// snapshot returns handlers in registration order. Caller holds mu.
func (s *Signal) snapshot() []func() {
	if len(s.handlers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = s.handlers[id]
	}
	return fns
}
