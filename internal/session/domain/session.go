package domain

import "time"

// Session represents a refresh-token session. Sessions form a singly-linked
// rotation chain via ReplacedBySessionID; the chain is append-only and a
// session is terminal once RevokedAt is set or ExpiresAt has passed.
type Session struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string // SHA-256 of the refresh token; the raw token is never persisted
	UserAgent           string // optional, informational
	IP                  string // optional, informational
	ExpiresAt           time.Time
	RevokedAt           *time.Time // nil while active
	ReplacedBySessionID string     // set when rotated
	CreatedAt           time.Time
}

// Active reports whether the session can still redeem its refresh token at
// the given instant: not revoked and not past its absolute expiry.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
