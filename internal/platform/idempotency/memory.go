package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Suitable for a single instance or tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing *Entry
	if entry, ok := s.entries[key]; ok {
		existing = &entry
	}
	state, entry, write, err := claim(existing, fingerprint, now, normaliseTTL(ttl))
	if err != nil {
		return 0, Entry{}, err
	}
	if write {
		s.entries[key] = entry
	}
	return state, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[key]; ok && current.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	entry.Done = true
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
