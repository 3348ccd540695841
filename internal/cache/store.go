// Response cache for the gateway.
//
// DESIGN: A TTL map keyed by request fingerprint. Lookups are served
// under a read lock; expired entries are dropped lazily on access and
// by a background janitor. The store is deliberately dumb: the router
// decides what is cacheable and for how long, the store only holds it.
//
// Cache writes must never fail a call, so Set has no error return.
// When the store is full the entry closest to expiry is evicted.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one cached upstream response.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
	StoredAt    time.Time

	expiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Store is a concurrency-safe TTL response cache.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	defaultTTL time.Duration
	maxEntries int

	hits      atomic.Uint64
	misses    atomic.Uint64
	sets      atomic.Uint64
	evictions atomic.Uint64

	shutdown chan struct{}
	done     chan struct{}
}

// New creates a store and starts its cleanup janitor. Call Close to
// stop it. A non-positive cleanupInterval disables the janitor;
// expired entries are then only dropped lazily on access.
func New(defaultTTL, cleanupInterval time.Duration, maxEntries int) *Store {
	s := &Store{
		entries:    make(map[string]*Entry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.janitor(cleanupInterval)
	} else {
		close(s.done)
	}
	return s
}

// Get returns the entry for the key. A miss is a normal outcome, not
// an error.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return Entry{}, false
	}

	now := time.Now()
	if entry.expired(now) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry with a fresh one.
		if current, still := s.entries[key]; still && current.expired(now) {
			delete(s.entries, key)
			s.evictions.Add(1)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return Entry{}, false
	}

	s.hits.Add(1)
	return *entry, true
}

// Set stores the entry under the key, unconditionally replacing any
// previous value. A non-positive ttl falls back to the store default.
func (s *Store) Set(key string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	e.StoredAt = now
	e.expiresAt = now.Add(ttl)
	// The store owns its bytes; callers are free to reuse their buffer.
	if len(e.Body) > 0 {
		e.Body = append([]byte(nil), e.Body...)
	}

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictNearestLocked()
	}
	s.entries[key] = &e
	s.mu.Unlock()
	s.sets.Add(1)
}

// evictNearestLocked drops the entry closest to expiry. Linear scan;
// the store is sized for thousands of entries, not millions.
// Caller holds s.mu.
func (s *Store) evictNearestLocked() {
	var victim string
	var soonest time.Time
	for key, entry := range s.entries {
		if victim == "" || entry.expiresAt.Before(soonest) {
			victim = key
			soonest = entry.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
		s.evictions.Add(1)
	}
}

// Clear removes every entry whose key contains pattern as a substring
// and returns the number removed. An empty pattern clears everything.
func (s *Store) Clear(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.Contains(key, pattern) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries currently held, expired or not.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of the activity counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Sets:      s.sets.Load(),
		Evictions: s.evictions.Load(),
		Size:      s.Size(),
	}
}

// Close stops the janitor. Safe to call more than once.
func (s *Store) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}

func (s *Store) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Store) removeExpired() {
	now := time.Now()
	s.mu.Lock()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			s.evictions.Add(1)
		}
	}
	s.mu.Unlock()
}
