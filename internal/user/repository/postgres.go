package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"identity-gateway/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, email_verified_at, role, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, email_verified_at, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID,
		sql.NullString{String: u.Email, Valid: u.Email != ""},
		timeToNullTime(u.EmailVerifiedAt),
		string(u.Role),
		u.CreatedAt,
		u.UpdatedAt,
	)
	return err
}

// BackfillEmail sets email on the user only when none is present yet.
func (r *PostgresRepository) BackfillEmail(ctx context.Context, userID, email string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET email = $2, updated_at = $3
		WHERE id = $1 AND email IS NULL`,
		userID, email, time.Now().UTC(),
	)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var email sql.NullString
	var verifiedAt sql.NullTime
	var role string
	err := row.Scan(&u.ID, &email, &verifiedAt, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	u.EmailVerifiedAt = nullTimeToPtr(verifiedAt)
	u.Role = domain.Role(role)
	return &u, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
