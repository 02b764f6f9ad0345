package flightsim

import "sync"

// Synced guards a value shared between the simulation loop and its
// controllers. The value is only reachable from within Do.
type Synced[T any] struct {
	mu sync.Mutex
	v  T
}

// Do calls f with the guarded value.
func (s *Synced[T]) Do(f func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.v)
}
