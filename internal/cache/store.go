// Package cache holds the in-process caches used in front of the billing
// provider: a TTL store, a singleflight memo over it and a byte response
// cache with an optional shared remote tier.
package cache

import (
	"sync"
	"time"
)

// Entry is a single stored value. It is absent once now-StoredAt >= TTL.
type Entry struct {
	Key      string
	Payload  any
	StoredAt time.Time
	TTL      time.Duration
}

func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Store is a map-backed TTL store. Expired entries are evicted lazily on
// read and by Purge.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
}

// NewStore returns an empty store. A nil clock means time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, entries: make(map[string]Entry)}
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.Expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e.Payload, true
}

// Set stores payload under key. A non-positive ttl removes the key instead,
// since such an entry would already be expired.
func (s *Store) Set(key string, payload any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = Entry{Key: key, Payload: payload, StoredAt: s.now(), TTL: ttl}
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.mu.Unlock()
}

// Purge drops every expired entry and reports how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, including expired ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
