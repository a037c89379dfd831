package repository

import (
	"context"
	"errors"

	"identity-gateway/internal/identity/domain"
)

// ErrDuplicateIdentity is returned by Create when the (provider, provider_user_id)
// pair already exists. Callers map it to their own conflict error.
var ErrDuplicateIdentity = errors.New("identity already exists")

// Repository defines persistence for identities.
type Repository interface {
	GetByProviderID(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.Identity, error)
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	// UpdateMetadata replaces the identity's metadata bag.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error
}
