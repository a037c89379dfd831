package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"identity-gateway/internal/identity/domain"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const identityColumns = `id, user_id, provider, provider_user_id, email, password_hash, metadata, created_at`

// GetByProviderID returns the identity for the globally unique
// (provider, provider_user_id) pair, or nil if not found.
func (r *PostgresRepository) GetByProviderID(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		string(provider), providerUserID,
	)
	return scanIdentity(row)
}

// GetByUserAndProvider returns the user's identity at the given provider, or nil if not found.
func (r *PostgresRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	)
	return scanIdentity(row)
}

// Create persists the identity. Returns ErrDuplicateIdentity when the
// (provider, provider_user_id) pair is already taken.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	metadata, err := metadataJSON(i.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_user_id, email, password_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID, i.UserID, string(i.Provider), i.ProviderUserID,
		sql.NullString{String: i.Email, Valid: i.Email != ""},
		sql.NullString{String: i.PasswordHash, Valid: i.PasswordHash != ""},
		metadata, i.CreatedAt,
	)
	return mapUniqueViolation(err)
}

// UpdateMetadata replaces the identity's metadata bag.
func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	metadata, err := metadataJSON(md)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE identities SET metadata = $2 WHERE id = $1`, id, metadata)
	return err
}

func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateIdentity
	}
	return err
}

func metadataJSON(md map[string]string) ([]byte, error) {
	if len(md) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var i domain.Identity
	var provider string
	var email, passwordHash sql.NullString
	var metadata []byte
	err := row.Scan(&i.ID, &i.UserID, &provider, &i.ProviderUserID, &email, &passwordHash, &metadata, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Provider = domain.Provider(provider)
	if email.Valid {
		i.Email = email.String
	}
	if passwordHash.Valid {
		i.PasswordHash = passwordHash.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &i.Metadata); err != nil {
			return nil, err
		}
	}
	return &i, nil
}
