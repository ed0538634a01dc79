package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process marker store. It serves as the best-effort
// fallback when the cache dependency is unavailable (reduced guarantees:
// markers are not shared across receiver instances) and as the store for
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	stop    chan struct{}
}

// NewMemoryStore creates a memory store with a background expiry sweep.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = time.Now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() {
	close(s.stop)
}
