// Package kvstore provides the key-value persistence interface the engine
// uses for signature catalog snapshots, backed by BoltDB in production and
// an in-memory map in tests.
package kvstore

import (
	"sync"
	"time"
)

// KV is a minimal TTL-aware key-value store.
type KV interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(key string) (value []byte, ok bool, err error)
	// Put stores value under key. A zero ttl means no expiry.
	Put(key string, value []byte, ttl time.Duration) error
}

// Memory is a map-backed KV for tests and single-process setups.
type Memory struct {
	mu sync.RWMutex
	m  map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]memEntry)}
}

func (s *Memory) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Memory) Put(key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()
	return nil
}
