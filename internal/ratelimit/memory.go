package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count       int64
	windowStart time.Time
}

// MemoryStore is an in-process counting store. Counters are per-instance, so
// behind a load balancer the effective limit scales with replica count; it
// serves as the failover target and for single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memoryCounter)}
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, ruleID, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ruleID + "\x00" + key
	c, ok := s.counters[id]
	if !ok || !now.Before(c.windowStart.Add(window)) {
		c = &memoryCounter{windowStart: now}
		s.counters[id] = c
	}
	c.count++
	return Counter{Count: c.count, WindowEnd: c.windowStart.Add(window)}, nil
}
