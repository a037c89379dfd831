// Package service implements the session manager: issuing, rotating, and
// revoking refresh/access token pairs.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"identity-gateway/internal/security"
	"identity-gateway/internal/session/domain"
	"identity-gateway/internal/session/repository"
	userdomain "identity-gateway/internal/user/domain"
)

// ErrInvalidRefreshToken is returned when a presented refresh token is
// unknown, already rotated, revoked, or past its expiry. A rotated token is
// permanently unusable; there is no grace window.
var ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

// TokenPair is an issued access/refresh token pair. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    string
	UserID       string
}

// Metadata carries optional, informational request attributes stored on the session.
type Metadata struct {
	UserAgent string
	IP        string
}

// SessionRepo is the minimal session repository needed by the manager.
type SessionRepo interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Rotate(ctx context.Context, oldID string, replacement *domain.Session, now time.Time) error
	RevokeByTokenHash(ctx context.Context, tokenHash string, now time.Time) error
}

// UserGetter resolves the session owner's current role for access token claims.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Manager issues, rotates, and revokes sessions. Access tokens are stateless
// (signature + expiry only): revoking or rotating a session does not
// retroactively invalidate an already-issued, still-unexpired access token.
// Accepted trade-off favoring latency over instant revocation.
type Manager struct {
	sessions   SessionRepo
	users      UserGetter
	tokens     *security.TokenProvider
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager returns a Manager with the given dependencies.
func NewManager(sessions SessionRepo, users UserGetter, tokens *security.TokenProvider, refreshTTL time.Duration) *Manager {
	return &Manager{
		sessions:   sessions,
		users:      users,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates a session for the user and returns a fresh token pair. Only
// the refresh token's hash is persisted; the raw token cannot be recovered.
func (m *Manager) Issue(ctx context.Context, userID string, role userdomain.Role, meta Metadata) (*TokenPair, error) {
	refreshToken, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	sess := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		RefreshTokenHash: security.HashToken(refreshToken),
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		ExpiresAt:        now.Add(m.refreshTTL),
		CreatedAt:        now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	accessToken, _, err := m.tokens.IssueAccess(userID, string(role), sess.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(m.tokens.AccessTTL().Seconds()),
		SessionID:    sess.ID,
		UserID:       userID,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The old session is revoked
// and linked to its replacement in one atomic commit; the presented token is
// permanently unusable afterwards. A concurrent rotation of the same token
// can be won by at most one caller; the loser gets ErrInvalidRefreshToken.
func (m *Manager) Rotate(ctx context.Context, refreshToken string, meta Metadata) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := m.sessions.GetByTokenHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if sess == nil || !security.TokenHashEqual(refreshToken, sess.RefreshTokenHash) || !sess.Active(now) {
		return nil, ErrInvalidRefreshToken
	}
	user, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}

	newRefresh, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	replacement := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           sess.UserID,
		RefreshTokenHash: security.HashToken(newRefresh),
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		ExpiresAt:        now.Add(m.refreshTTL),
		CreatedAt:        now,
	}
	if err := m.sessions.Rotate(ctx, sess.ID, replacement, now); err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	accessToken, _, err := m.tokens.IssueAccess(user.ID, string(user.Role), replacement.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(m.tokens.AccessTTL().Seconds()),
		SessionID:    replacement.ID,
		UserID:       user.ID,
	}, nil
}

// Revoke marks the session holding the token revoked. Idempotent: an unknown
// or already-revoked token is not an error.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return m.sessions.RevokeByTokenHash(ctx, security.HashToken(refreshToken), m.now().UTC())
}
