package ratelimit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore counts in the rate_limit_counters table so all instances
// share one view. Each Incr is a single upsert: a new key inserts at count 1,
// a live window increments, and an elapsed window resets in place.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store backed by the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Incr implements Store.
func (s *PostgresStore) Incr(ctx context.Context, ruleID, key string, window time.Duration, now time.Time) (Counter, error) {
	var count int64
	var windowStart time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (rule_id, key, window_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (rule_id, key) DO UPDATE SET
			count = CASE WHEN rate_limit_counters.window_start <= $4
				THEN 1 ELSE rate_limit_counters.count + 1 END,
			window_start = CASE WHEN rate_limit_counters.window_start <= $4
				THEN $3 ELSE rate_limit_counters.window_start END
		RETURNING count, window_start`,
		ruleID, key, now, now.Add(-window),
	).Scan(&count, &windowStart)
	if err != nil {
		return Counter{}, err
	}
	return Counter{Count: count, WindowEnd: windowStart.Add(window)}, nil
}
