package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// defaultBackoff is how long the shared store is left alone after a failure
// before the next probe.
const defaultBackoff = 30 * time.Second

// FailoverStore serves from a primary (shared) store and falls back to a
// local one when the primary fails. A failure arms a backoff deadline; until
// it passes every increment goes straight to the fallback. The first failure
// and the eventual recovery are each logged once, not per request. While
// degraded, counting is local-only and therefore per-instance.
type FailoverStore struct {
	primary  Store
	fallback Store
	backoff  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	degraded bool
	retryAt  time.Time
}

// NewFailoverStore wraps primary with fallback using the default 30s backoff.
func NewFailoverStore(primary, fallback Store) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		backoff:  defaultBackoff,
		now:      time.Now,
	}
}

// Incr implements Store. An error is returned only when the store being
// served from fails; a primary failure alone degrades silently to fallback.
func (s *FailoverStore) Incr(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (Counter, error) {
	if s.tryPrimary() {
		c, err := s.primary.Incr(ctx, ruleID, key, window, now)
		if err == nil {
			s.markHealthy()
			return c, nil
		}
		s.markDegraded(err)
	}
	return s.fallback.Incr(ctx, ruleID, key, window, now)
}

// tryPrimary reports whether this call should attempt the shared store.
func (s *FailoverStore) tryPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.degraded || !s.now().Before(s.retryAt)
}

func (s *FailoverStore) markHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		s.degraded = false
		log.Printf("ratelimit: shared store recovered, leaving local fallback")
	}
}

func (s *FailoverStore) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		log.Printf("ratelimit: shared store failed, using local fallback for %s: %v", s.backoff, err)
	}
	s.degraded = true
	s.retryAt = s.now().Add(s.backoff)
}
