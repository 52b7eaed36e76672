package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-instance Cache used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Record(_ context.Context, userID, requestID string, entry Entry) error {
	if requestID == "" {
		return nil
	}
	now := s.now()
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = now.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	key := userID + ":" + requestID
	if _, ok := s.entries[key]; ok {
		return nil
	}
	s.entries[key] = memoryEntry{entry: entry, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, userID, requestID string) (Entry, bool, error) {
	if requestID == "" {
		return Entry{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.entries[userID+":"+requestID]
	if !ok || !s.now().Before(item.expiresAt) {
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, item := range s.entries {
		if !now.Before(item.expiresAt) {
			delete(s.entries, key)
		}
	}
}
