package store

import (
	"context"
	"sync"
	"time"
)

type memoryList struct {
	entries   [][]byte
	expiresAt time.Time
}

// MemoryListStore is an in-process ListStore with the same trim and
// sliding-expiry behaviour as the Redis store. State is lost on restart.
type MemoryListStore struct {
	mu    sync.Mutex
	lists map[string]*memoryList
	now   func() time.Time
}

func NewMemoryListStore() *MemoryListStore {
	return &MemoryListStore{
		lists: make(map[string]*memoryList),
		now:   time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryListStore) WithClock(now func() time.Time) *MemoryListStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryListStore) Append(_ context.Context, key string, entry []byte, maxLen int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.live(key)
	if list == nil {
		list = &memoryList{}
		s.lists[key] = list
	}

	cp := make([]byte, len(entry))
	copy(cp, entry)
	list.entries = append(list.entries, cp)
	if maxLen > 0 && len(list.entries) > maxLen {
		list.entries = append([][]byte(nil), list.entries[len(list.entries)-maxLen:]...)
	}
	list.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryListStore) Tail(_ context.Context, key string, n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.live(key)
	if list == nil || n <= 0 {
		return nil, nil
	}
	start := 0
	if len(list.entries) > n {
		start = len(list.entries) - n
	}
	out := make([][]byte, 0, len(list.entries)-start)
	for _, e := range list.entries[start:] {
		cp := make([]byte, len(e))
		copy(cp, e)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryListStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	return nil
}

// Len reports the stored length of key, zero when missing or expired.
func (s *MemoryListStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if list := s.live(key); list != nil {
		return len(list.entries)
	}
	return 0
}

func (s *MemoryListStore) Ping(context.Context) error { return nil }

func (s *MemoryListStore) Close() error { return nil }

// live returns the list for key, dropping it if expired. Caller holds mu.
func (s *MemoryListStore) live(key string) *memoryList {
	list, ok := s.lists[key]
	if !ok {
		return nil
	}
	if !s.now().Before(list.expiresAt) {
		delete(s.lists, key)
		return nil
	}
	return list
}
