// Package auth orchestrates the authentication operations: each one passes
// the rate limiter first, then the credential verifier, then commits through
// the session manager or the link coordinator.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"identity-gateway/internal/audit"
	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/identity/provider"
	identityrepo "identity-gateway/internal/identity/repository"
	linksvc "identity-gateway/internal/link/service"
	"identity-gateway/internal/ratelimit"
	sessionsvc "identity-gateway/internal/session/service"
	"identity-gateway/internal/telemetry"
	userdomain "identity-gateway/internal/user/domain"
)

// Sentinel errors for the auth service; the transport layer maps them to status codes.
var (
	ErrAlreadyRegistered  = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	BackfillEmail(ctx context.Context, userID, email string) error
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByProviderID(ctx context.Context, p identitydomain.Provider, providerUserID string) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error
}

// SessionManager issues, rotates, and revokes token pairs.
type SessionManager interface {
	Issue(ctx context.Context, userID string, role userdomain.Role, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error)
	Rotate(ctx context.Context, refreshToken string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// LinkCoordinator mediates attaching additional identities to a user.
type LinkCoordinator interface {
	StartLink(ctx context.Context, userID string) (string, error)
	ConfirmLink(ctx context.Context, userID string, req linksvc.ConfirmLinkRequest) (*identitydomain.Identity, error)
}

// Limiter guards an operation with a named rate limit policy.
type Limiter interface {
	Assert(ctx context.Context, policy string, req ratelimit.Request) error
}

// GoogleVerifier verifies a Google ID token into canonical claims.
type GoogleVerifier interface {
	Verify(ctx context.Context, rawToken string) (*provider.GoogleClaims, error)
}

// TelegramVerifier verifies a Telegram launch payload into a canonical user.
type TelegramVerifier interface {
	Verify(initData string) (*provider.TelegramUser, error)
}

// PasswordHasher hashes and verifies login passwords.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
}

// Service implements registration, provider logins, refresh, logout, and the
// rate-limited entry points for identity linking.
type Service struct {
	users      UserRepo
	identities IdentityRepo
	sessions   SessionManager
	links      LinkCoordinator
	limiter    Limiter
	hasher     PasswordHasher
	google     GoogleVerifier
	telegram   TelegramVerifier
	auditLog   audit.AuditLogger
	events     telemetry.EventEmitter
	now        func() time.Time
}

// NewService returns a Service with the given dependencies. auditLog and
// events may be nil; both are best-effort observers.
func NewService(
	users UserRepo,
	identities IdentityRepo,
	sessions SessionManager,
	links LinkCoordinator,
	limiter Limiter,
	hasher PasswordHasher,
	google GoogleVerifier,
	telegram TelegramVerifier,
	auditLog audit.AuditLogger,
	events telemetry.EventEmitter,
) *Service {
	return &Service{
		users:      users,
		identities: identities,
		sessions:   sessions,
		links:      links,
		limiter:    limiter,
		hasher:     hasher,
		google:     google,
		telegram:   telegram,
		auditLog:   auditLog,
		events:     events,
		now:        time.Now,
	}
}

// RegisterEmail creates a user with an EMAIL identity and returns the user id.
// No session is issued; the caller logs in afterwards.
func (s *Service) RegisterEmail(ctx context.Context, email, password string, meta sessionsvc.Metadata) (string, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyEmailRegister, ratelimit.Request{IP: meta.IP}); err != nil {
		return "", err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidCredentials
	}
	if password == "" {
		return "", ErrInvalidCredentials
	}
	existing, err := s.identities.GetByProviderID(ctx, identitydomain.ProviderEmail, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrAlreadyRegistered
	}
	// The email may already belong to a provider-login user without an EMAIL
	// identity; the users table holds it unique either way.
	holder, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if holder != nil {
		return "", ErrAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      userdomain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return "", err
	}
	identity := &identitydomain.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       identitydomain.ProviderEmail,
		ProviderUserID: email,
		Email:          email,
		PasswordHash:   hashed,
		CreatedAt:      now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, identityrepo.ErrDuplicateIdentity) {
			return "", ErrAlreadyRegistered
		}
		return "", err
	}
	s.record(ctx, user.ID, "", "auth.register", "EMAIL", "success", meta)
	return user.ID, nil
}

// LoginEmail authenticates with email/password and issues a token pair.
// Unknown email, missing identity, and wrong password are indistinguishable.
func (s *Service) LoginEmail(ctx context.Context, email, password string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := s.limiter.Assert(ctx, ratelimit.PolicyEmailLogin, ratelimit.Request{IP: meta.IP, Subject: email}); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, err := s.identities.GetByProviderID(ctx, identitydomain.ProviderEmail, email)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		s.record(ctx, "", "", "auth.login_email", "EMAIL", "failure", meta)
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(password)); err != nil {
		s.record(ctx, ident.UserID, "", "auth.login_email", "EMAIL", "failure", meta)
		return nil, ErrInvalidCredentials
	}
	return s.issueFor(ctx, ident.UserID, "auth.login_email", "EMAIL", meta)
}

// LoginGoogle verifies a Google ID token and issues a token pair. The first
// login creates the user and identity; later logins refresh the identity's
// provider metadata.
func (s *Service) LoginGoogle(ctx context.Context, idToken string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyGoogleLogin, ratelimit.Request{IP: meta.IP}); err != nil {
		return nil, err
	}
	claims, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.record(ctx, "", "", "auth.login_google", "GOOGLE", "failure", meta)
		return nil, err
	}
	email := ""
	if claims.EmailVerified {
		email = strings.TrimSpace(strings.ToLower(claims.Email))
	}
	metadata := map[string]string{}
	setIfPresent(metadata, "name", claims.Name)
	setIfPresent(metadata, "picture", claims.Picture)
	setIfPresent(metadata, "locale", claims.Locale)

	userID, err := s.resolveProviderUser(ctx, identitydomain.ProviderGoogle, claims.Subject, email, metadata)
	if err != nil {
		return nil, err
	}
	return s.issueFor(ctx, userID, "auth.login_google", "GOOGLE", meta)
}

// LoginTelegram verifies a Telegram launch payload and issues a token pair,
// with the same first-login-creates-user behavior as LoginGoogle.
func (s *Service) LoginTelegram(ctx context.Context, initData string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyTelegramLogin, ratelimit.Request{IP: meta.IP}); err != nil {
		return nil, err
	}
	tgUser, err := s.telegram.Verify(initData)
	if err != nil {
		s.record(ctx, "", "", "auth.login_telegram", "TELEGRAM", "failure", meta)
		return nil, err
	}
	metadata := map[string]string{}
	setIfPresent(metadata, "username", tgUser.Username)
	setIfPresent(metadata, "first_name", tgUser.FirstName)
	setIfPresent(metadata, "last_name", tgUser.LastName)
	setIfPresent(metadata, "language_code", tgUser.LanguageCode)

	userID, err := s.resolveProviderUser(ctx, identitydomain.ProviderTelegram, strconv.FormatInt(tgUser.ID, 10), "", metadata)
	if err != nil {
		return nil, err
	}
	return s.issueFor(ctx, userID, "auth.login_telegram", "TELEGRAM", meta)
}

// Refresh rotates the refresh token and returns a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyRefresh, ratelimit.Request{IP: meta.IP}); err != nil {
		return nil, err
	}
	pair, err := s.sessions.Rotate(ctx, refreshToken, meta)
	if err != nil {
		if errors.Is(err, sessionsvc.ErrInvalidRefreshToken) {
			s.record(ctx, "", "", "auth.refresh", "", "failure", meta)
		}
		return nil, err
	}
	s.record(ctx, pair.UserID, pair.SessionID, "auth.refresh", "", "success", meta)
	return pair, nil
}

// Logout revokes the session holding the refresh token. Idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta sessionsvc.Metadata) error {
	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	s.record(ctx, "", "", "auth.logout", "", "success", meta)
	return nil
}

// StartLink mints a link token for the authenticated user.
func (s *Service) StartLink(ctx context.Context, userID string, meta sessionsvc.Metadata) (string, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyLinkStart, ratelimit.Request{IP: meta.IP, Subject: userID}); err != nil {
		return "", err
	}
	token, err := s.links.StartLink(ctx, userID)
	if err != nil {
		return "", err
	}
	s.record(ctx, userID, "", "auth.link_start", "", "success", meta)
	return token, nil
}

// ConfirmLink redeems a link token into a newly attached identity.
func (s *Service) ConfirmLink(ctx context.Context, userID string, req linksvc.ConfirmLinkRequest, meta sessionsvc.Metadata) (*identitydomain.Identity, error) {
	if err := s.limiter.Assert(ctx, ratelimit.PolicyLinkConfirm, ratelimit.Request{IP: meta.IP, Subject: userID}); err != nil {
		return nil, err
	}
	identity, err := s.links.ConfirmLink(ctx, userID, req)
	if err != nil {
		s.record(ctx, userID, "", "auth.link_confirm", string(req.Provider), "failure", meta)
		return nil, err
	}
	s.record(ctx, userID, "", "auth.link_confirm", string(identity.Provider), "success", meta)
	return identity, nil
}

// resolveProviderUser returns the user owning the provider identity, creating
// user and identity on first login and refreshing stored metadata otherwise.
func (s *Service) resolveProviderUser(ctx context.Context, p identitydomain.Provider, providerUserID, email string, metadata map[string]string) (string, error) {
	ident, err := s.identities.GetByProviderID(ctx, p, providerUserID)
	if err != nil {
		return "", err
	}
	if ident != nil {
		merged := make(map[string]string, len(ident.Metadata)+len(metadata))
		for k, v := range ident.Metadata {
			merged[k] = v
		}
		for k, v := range metadata {
			merged[k] = v
		}
		// Best-effort; a stale metadata bag must not block login.
		_ = s.identities.UpdateMetadata(ctx, ident.ID, merged)
		if email != "" {
			_ = s.users.BackfillEmail(ctx, ident.UserID, email)
		}
		return ident.UserID, nil
	}

	now := s.now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      userdomain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return "", err
	}
	identity := &identitydomain.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       p,
		ProviderUserID: providerUserID,
		Email:          email,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, identityrepo.ErrDuplicateIdentity) {
			// Lost a concurrent first login; the winner's identity holds the user.
			winner, lookupErr := s.identities.GetByProviderID(ctx, p, providerUserID)
			if lookupErr != nil {
				return "", lookupErr
			}
			if winner != nil {
				return winner.UserID, nil
			}
		}
		return "", err
	}
	return user.ID, nil
}

// issueFor creates the session and records the successful login.
func (s *Service) issueFor(ctx context.Context, userID, action, providerName string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	pair, err := s.sessions.Issue(ctx, user.ID, user.Role, meta)
	if err != nil {
		return nil, err
	}
	s.record(ctx, user.ID, pair.SessionID, action, providerName, "success", meta)
	return pair, nil
}

// record writes the audit row and emits the telemetry event. Both best-effort.
func (s *Service) record(ctx context.Context, userID, sessionID, action, providerName, outcome string, meta sessionsvc.Metadata) {
	if s.auditLog != nil {
		detail, _ := json.Marshal(map[string]string{"outcome": outcome, "provider": providerName})
		s.auditLog.LogEvent(ctx, userID, action, "session", string(detail))
	}
	telemetry.EmitAsync(s.events, ctx, &telemetry.Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: strings.TrimPrefix(action, "auth.") + "_" + outcome,
		Provider:  providerName,
		Source:    "grpc",
		IP:        meta.IP,
		CreatedAt: s.now().UTC(),
	})
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
