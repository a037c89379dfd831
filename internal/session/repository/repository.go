package repository

import (
	"context"
	"errors"
	"time"

	"identity-gateway/internal/session/domain"
)

// ErrRotationConflict is returned by Rotate when the session to replace was
// already revoked or rotated by a concurrent caller. At most one of two
// concurrent rotations against the same session can win.
var ErrRotationConflict = errors.New("session already rotated or revoked")

// Repository defines persistence for sessions.
type Repository interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Rotate atomically creates the replacement session and marks the session
	// with oldID revoked and replaced by it. The two writes commit together or
	// not at all; losing a concurrent race returns ErrRotationConflict.
	Rotate(ctx context.Context, oldID string, replacement *domain.Session, now time.Time) error
	// RevokeByTokenHash marks the matching active session revoked. Idempotent:
	// absence or an already-revoked session is not an error.
	RevokeByTokenHash(ctx context.Context, tokenHash string, now time.Time) error
}
