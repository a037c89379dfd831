package repository

import (
	"context"

	"identity-gateway/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// BackfillEmail sets the user's email only when the user has none yet. No-op if already set.
	BackfillEmail(ctx context.Context, userID, email string) error
}
