package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

type memoryStore struct {
	items       map[string]memoryEntry
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory refresh token store.
func NewMemory(cfg Config) Storage {
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]memoryEntry),
		ttl:         cfg.ttl(),
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) cleanupExpired(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for tenant, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, tenant)
		}
	}
}

func (s *memoryStore) Get(_ context.Context, tenant string) (string, error) {
	s.mutex.RLock()
	entry, ok := s.items[tenant]
	s.mutex.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", nil
	}
	return entry.token, nil
}

func (s *memoryStore) Set(_ context.Context, tenant, token string) error {
	if tenant == "" {
		return fmt.Errorf("tenant required")
	}
	if token == "" {
		s.mutex.Lock()
		delete(s.items, tenant)
		s.mutex.Unlock()
		return nil
	}

	now := time.Now()
	s.mutex.Lock()
	s.items[tenant] = memoryEntry{token: token, expiresAt: expiryFor(token, now, s.ttl)}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Clear(_ context.Context, tenant string) error {
	s.mutex.Lock()
	delete(s.items, tenant)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
