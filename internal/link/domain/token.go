package domain

import "time"

// LinkToken is a single-use secret proving the right to attach a new identity
// to an already-authenticated user. Only its hash is persisted; once
// ConsumedAt is set the token is terminal.
type LinkToken struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Usable reports whether the token can still be consumed at the given instant.
func (t *LinkToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}
