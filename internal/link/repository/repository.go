package repository

import (
	"context"
	"errors"
	"time"

	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/link/domain"
)

// ErrTokenConsumed is returned by ConsumeAndLink when the link token was
// already consumed by a concurrent caller.
var ErrTokenConsumed = errors.New("link token already consumed")

// ErrIdentityTaken is returned by ConsumeAndLink when the identity's
// (provider, provider_user_id) pair was claimed concurrently.
var ErrIdentityTaken = errors.New("identity already linked")

// Repository defines persistence for account link tokens.
type Repository interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.LinkToken, error)
	Create(ctx context.Context, t *domain.LinkToken) error
	// ConsumeAndLink commits the link in one transaction: create the identity,
	// back-fill the user's email when backfillEmail is non-empty and the user
	// has none, and mark the token consumed. A token consumed concurrently
	// yields ErrTokenConsumed; a concurrently claimed identity yields
	// ErrIdentityTaken. Either way nothing is committed.
	ConsumeAndLink(ctx context.Context, tokenID string, identity *identitydomain.Identity, backfillEmail string, now time.Time) error
}
