// Package ratelimit implements a fixed-window request limiter with a
// pluggable counting store and shared-to-local store failover.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Request carries the attributes rules derive counting keys from. Fields may
// be empty; a rule whose extractor yields an empty key is skipped.
type Request struct {
	IP      string
	Subject string
}

// Rule is one fixed-window constraint: at most Limit increments per Window
// for each distinct key.
type Rule struct {
	ID     string
	Limit  int64
	Window time.Duration
	Key    func(Request) string
}

// Counter is the post-increment state of one (rule, key) window.
type Counter struct {
	Count     int64
	WindowEnd time.Time
}

// Store counts requests per (ruleID, key) in fixed windows. Incr starts a new
// window at count 1 when none exists or the previous one has elapsed, and
// increments otherwise.
type Store interface {
	Incr(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (Counter, error)
}

// LimitExceededError reports a rate limit violation. RetryAfterSeconds is at
// least 1 and covers the worst of the violated rules.
type LimitExceededError struct {
	RetryAfterSeconds int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// Limiter evaluates named policies against a counting store. Fixed-window
// semantics: counts reset at window boundaries, so bursts straddling a
// boundary can reach 2x the nominal limit. Accepted trade-off.
type Limiter struct {
	store    Store
	policies map[string][]Rule
	global   []Rule
	enabled  bool
	now      func() time.Time
}

// NewLimiter returns a Limiter. Global rules apply to every policy, ahead of
// the policy's own rules; an unknown policy name gets global rules only.
// When enabled is false Assert is a no-op.
func NewLimiter(store Store, policies map[string][]Rule, global []Rule, enabled bool) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		global:   global,
		enabled:  enabled,
		now:      time.Now,
	}
}

// Assert increments every applicable counter and fails with
// *LimitExceededError if any post-increment count exceeds its rule's limit.
// All counters are incremented even when an early rule is already violated,
// so every window stays accurate. Store errors propagate unwrapped.
func (l *Limiter) Assert(ctx context.Context, policy string, req Request) error {
	if !l.enabled {
		return nil
	}
	rules := make([]Rule, 0, len(l.global)+len(l.policies[policy]))
	rules = append(rules, l.global...)
	rules = append(rules, l.policies[policy]...)

	now := l.now()
	var retryAfter int64
	for _, rule := range rules {
		key := rule.Key(req)
		if key == "" {
			continue
		}
		c, err := l.store.Incr(ctx, rule.ID, key, rule.Window, now)
		if err != nil {
			return err
		}
		if c.Count > rule.Limit {
			ra := int64((c.WindowEnd.Sub(now) + time.Second - 1) / time.Second)
			if ra < 1 {
				ra = 1
			}
			if ra > retryAfter {
				retryAfter = ra
			}
		}
	}
	if retryAfter > 0 {
		return &LimitExceededError{RetryAfterSeconds: retryAfter}
	}
	return nil
}
