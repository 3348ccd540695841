package breaker

import (
	"sort"
	"sync"
)

// Set holds one breaker per registered service. Ensure keeps existing
// breaker state across configuration updates; Remove discards it so a
// later Ensure starts closed again.
type Set struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	onTransition TransitionFunc
}

// NewSet creates an empty breaker set. The transition callback is
// shared by every breaker the set creates; nil is allowed.
func NewSet(onTransition TransitionFunc) *Set {
	return &Set{
		breakers:     make(map[string]*Breaker),
		onTransition: onTransition,
	}
}

// Ensure returns the breaker for the named service, creating a closed
// one if absent. When the breaker already exists only its settings are
// swapped; state and counters carry over.
func (s *Set) Ensure(service string, settings Settings) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[service]; ok {
		b.UpdateSettings(settings)
		return b
	}
	b := New(service, settings, s.onTransition)
	s.breakers[service] = b
	return b
}

// Get returns the breaker for the named service, if any.
func (s *Set) Get(service string) (*Breaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.breakers[service]
	return b, ok
}

// Remove discards the breaker for the named service along with its
// accumulated state.
func (s *Set) Remove(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, service)
}

// Len returns the number of breakers in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.breakers)
}

// Snapshots returns a snapshot per breaker, sorted by service name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(list))
	for _, b := range list {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Service < snaps[j].Service })
	return snaps
}
