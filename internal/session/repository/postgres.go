package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity-gateway/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, refresh_token_hash, user_agent, ip, expires_at, revoked_at, replaced_by_session_id, created_at`

// GetByTokenHash returns the session holding the given refresh token hash, or
// nil if not found. It returns an error only for database failures.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, tokenHash)
	return scanSession(row)
}

// Create persists the session. The session must have ID and RefreshTokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, revoked_at, replaced_by_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.RefreshTokenHash,
		sql.NullString{String: s.UserAgent, Valid: s.UserAgent != ""},
		sql.NullString{String: s.IP, Valid: s.IP != ""},
		s.ExpiresAt,
		timeToNullTime(s.RevokedAt),
		sql.NullString{String: s.ReplacedBySessionID, Valid: s.ReplacedBySessionID != ""},
		s.CreatedAt,
	)
	return err
}

// Rotate inserts the replacement session and revokes the old one in a single
// transaction. The revocation is conditional on the old row still being
// active, so the loser of a concurrent rotation gets ErrRotationConflict and
// nothing is committed.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, replacement *domain.Session, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		replacement.ID, replacement.UserID, replacement.RefreshTokenHash,
		sql.NullString{String: replacement.UserAgent, Valid: replacement.UserAgent != ""},
		sql.NullString{String: replacement.IP, Valid: replacement.IP != ""},
		replacement.ExpiresAt, replacement.CreatedAt,
	)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2, replaced_by_session_id = $3
		WHERE id = $1 AND revoked_at IS NULL`,
		oldID, now, replacement.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate sessions: %w", err)
	}
	if n == 0 {
		return ErrRotationConflict
	}

	return tx.Commit()
}

// RevokeByTokenHash marks the matching active session revoked. Zero affected
// rows (missing or already revoked) is success.
func (r *PostgresRepository) RevokeByTokenHash(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL`,
		tokenHash, now,
	)
	return err
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	var userAgent, ip, replacedBy sql.NullString
	var revokedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &userAgent, &ip, &s.ExpiresAt, &revokedAt, &replacedBy, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if userAgent.Valid {
		s.UserAgent = userAgent.String
	}
	if ip.Valid {
		s.IP = ip.String
	}
	if replacedBy.Valid {
		s.ReplacedBySessionID = replacedBy.String
	}
	s.RevokedAt = nullTimeToPtr(revokedAt)
	return &s, nil
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
