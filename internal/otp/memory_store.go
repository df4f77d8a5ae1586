package otp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryEntry struct {
	digest    string
	expiresAt time.Time
}

// MemoryStore keeps records in process memory. Expiry is enforced on read;
// Sweep only reclaims memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, key, digest string, expiresAt time.Time) error {
	s.mu.Lock()
	s.items[key] = memoryEntry{digest: digest, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ConsumeIfMatch(_ context.Context, key, digest string, now time.Time) (Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return ReasonNotFound, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.items, key)
		return ReasonExpired, nil
	}
	if entry.digest != digest {
		return ReasonMismatch, nil
	}
	delete(s.items, key)
	return ReasonNone, nil
}

// Sweep drops every record expired at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.items {
		if !now.Before(entry.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// RunSweeper sweeps on every tick until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 && log != nil {
				log.Debug("otp sweep", zap.Int("removed", n))
			}
		}
	}
}

var _ Store = (*MemoryStore)(nil)
