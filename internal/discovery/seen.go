// internal/discovery/seen.go
package discovery

import "sync"

// DefaultSeenCapacity is how many token ids are remembered for de-duplication.
const DefaultSeenCapacity = 500

// SeenSet remembers the most recent token ids, evicting the oldest first.
type SeenSet struct {
	mu    sync.Mutex
	ring  []string
	next  int
	full  bool
	index map[string]struct{}
}

// NewSeenSet creates a set holding up to capacity ids.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &SeenSet{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return false
	}
	if s.full {
		delete(s.index, s.ring[s.next])
	}
	s.ring[s.next] = id
	s.index[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return true
}

// Contains reports whether id is remembered.
func (s *SeenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
