package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/link/domain"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a link token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByTokenHash returns the link token holding the given hash, or nil if not found.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.LinkToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, consumed_at, created_at
		FROM account_link_tokens WHERE token_hash = $1`, tokenHash)
	var t domain.LinkToken
	var consumedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &consumedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	return &t, nil
}

// Create persists the link token. The token must have ID and TokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.LinkToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_link_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	)
	return err
}

// ConsumeAndLink creates the identity, back-fills the user email when asked,
// and consumes the token, all inside one transaction. The consume is
// conditional on consumed_at still being NULL so a half-linked identity with
// a reusable token cannot be observed.
func (r *PostgresRepository) ConsumeAndLink(ctx context.Context, tokenID string, identity *identitydomain.Identity, backfillEmail string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	metadata := []byte("{}")
	if len(identity.Metadata) > 0 {
		metadata, err = json.Marshal(identity.Metadata)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_user_id, email, password_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		identity.ID, identity.UserID, string(identity.Provider), identity.ProviderUserID,
		sql.NullString{String: identity.Email, Valid: identity.Email != ""},
		sql.NullString{String: identity.PasswordHash, Valid: identity.PasswordHash != ""},
		metadata, identity.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrIdentityTaken
		}
		return err
	}

	if backfillEmail != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET email = $2, updated_at = $3
			WHERE id = $1 AND email IS NULL`,
			identity.UserID, backfillEmail, now,
		)
		if err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE account_link_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL`,
		tokenID, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenConsumed
	}

	return tx.Commit()
}
