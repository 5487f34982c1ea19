package snapshot

import "sync/atomic"

// Store publishes snapshot sets by replacement. Readers either get the
// complete previous set or the complete next one, never a mix, and neither
// side blocks the other.
type Store struct {
	current atomic.Pointer[Set]
}

func NewStore() *Store {
	return &Store{}
}

// Publish makes set the current one. The set must not be mutated afterwards.
func (s *Store) Publish(set *Set) {
	s.current.Store(set)
}

// Latest returns the most recently published set, or nil before the first
// publish.
func (s *Store) Latest() *Set {
	return s.current.Load()
}
