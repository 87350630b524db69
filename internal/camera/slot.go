package camera

import "sync"

// Slot holds the latest value written by one goroutine for another to pick
// up. Writers overwrite; Take returns the value and empties the slot.
type Slot[T any] struct {
	mu sync.Mutex
	v  *T
}

// Put stores v, replacing any value not yet taken.
func (s *Slot[T]) Put(v T) {
	s.mu.Lock()
	s.v = &v
	s.mu.Unlock()
}

// Take removes and returns the pending value.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v == nil {
		var zero T
		return zero, false
	}
	v := *s.v
	s.v = nil
	return v, true
}
