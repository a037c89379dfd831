// Package service implements the identity linking coordinator: short-lived
// link tokens and their atomic redemption into a new linked identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/identity/provider"
	identityrepo "identity-gateway/internal/identity/repository"
	"identity-gateway/internal/link/domain"
	"identity-gateway/internal/link/repository"
	"identity-gateway/internal/security"
)

var (
	// ErrInvalidLinkToken is returned when the token is unknown or belongs to
	// a different user. The two cases are indistinguishable to the caller.
	ErrInvalidLinkToken = errors.New("invalid link token")

	// ErrExpiredLinkToken is returned when the token exists but was already
	// consumed or is past its expiry.
	ErrExpiredLinkToken = errors.New("link token expired or consumed")

	// ErrIdentityAlreadyLinked is returned when the provider identity is
	// already attached to a user.
	ErrIdentityAlreadyLinked = errors.New("identity already linked")

	// ErrProviderUserIDRequired is returned for GOOGLE/TELEGRAM links with no
	// fresh proof and no caller-supplied provider user id.
	ErrProviderUserIDRequired = errors.New("provider user id required")

	// ErrEmailRequired is returned for EMAIL links without an email.
	ErrEmailRequired = errors.New("email required")

	// ErrPasswordRequired is returned for EMAIL links without a password.
	ErrPasswordRequired = errors.New("password required")
)

// GoogleVerifier verifies a Google ID token into canonical claims.
type GoogleVerifier interface {
	Verify(ctx context.Context, rawToken string) (*provider.GoogleClaims, error)
}

// TelegramVerifier verifies a Telegram launch payload into a canonical user.
type TelegramVerifier interface {
	Verify(initData string) (*provider.TelegramUser, error)
}

// ConfirmLinkRequest carries the credential material for attaching one
// provider identity. Which fields matter depends on Provider; fresh proof
// (GoogleIDToken / TelegramInitData) always wins over ProviderUserID and
// caller-supplied Metadata.
type ConfirmLinkRequest struct {
	LinkToken        string
	Provider         identitydomain.Provider
	Email            string
	Password         string
	GoogleIDToken    string
	TelegramInitData string
	ProviderUserID   string
	Metadata         map[string]string
}

// Coordinator mediates attaching additional provider identities to an
// existing authenticated user via single-use link tokens.
type Coordinator struct {
	tokens     repository.Repository
	identities identityrepo.Repository
	hasher     *security.Hasher
	google     GoogleVerifier
	telegram   TelegramVerifier
	tokenTTL   time.Duration
	now        func() time.Time
}

// NewCoordinator returns a Coordinator with the given dependencies.
func NewCoordinator(tokens repository.Repository, identities identityrepo.Repository, hasher *security.Hasher, google GoogleVerifier, telegram TelegramVerifier, tokenTTL time.Duration) *Coordinator {
	return &Coordinator{
		tokens:     tokens,
		identities: identities,
		hasher:     hasher,
		google:     google,
		telegram:   telegram,
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
}

// StartLink mints a single-use link token bound to the user. Only the hash is
// persisted; the raw token is returned exactly once.
func (c *Coordinator) StartLink(ctx context.Context, userID string) (string, error) {
	raw, err := security.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	now := c.now().UTC()
	token := &domain.LinkToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: security.HashToken(raw),
		ExpiresAt: now.Add(c.tokenTTL),
		CreatedAt: now,
	}
	if err := c.tokens.Create(ctx, token); err != nil {
		return "", err
	}
	return raw, nil
}

// ConfirmLink redeems a link token into a new identity for the user. The
// identity insert, optional email back-fill, and token consumption commit in
// one transaction; a token can therefore be redeemed at most once even under
// concurrent confirmation.
func (c *Coordinator) ConfirmLink(ctx context.Context, userID string, req ConfirmLinkRequest) (*identitydomain.Identity, error) {
	token, err := c.tokens.GetByTokenHash(ctx, security.HashToken(req.LinkToken))
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	if token == nil || token.UserID != userID {
		return nil, ErrInvalidLinkToken
	}
	if !token.Usable(now) {
		return nil, ErrExpiredLinkToken
	}

	identity, err := c.resolveIdentity(ctx, userID, req, now)
	if err != nil {
		return nil, err
	}

	// Pre-check for a friendly error; the unique constraint still backstops
	// the race inside ConsumeAndLink.
	existing, err := c.identities.GetByProviderID(ctx, identity.Provider, identity.ProviderUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrIdentityAlreadyLinked
	}

	backfillEmail := ""
	if identity.Provider == identitydomain.ProviderEmail {
		backfillEmail = identity.Email
	}
	if err := c.tokens.ConsumeAndLink(ctx, token.ID, identity, backfillEmail, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrIdentityTaken):
			return nil, ErrIdentityAlreadyLinked
		case errors.Is(err, repository.ErrTokenConsumed):
			return nil, ErrExpiredLinkToken
		}
		return nil, err
	}
	return identity, nil
}

// resolveIdentity turns the request into the identity row to insert. Provider
// verified attributes overwrite caller-supplied metadata on key collisions.
func (c *Coordinator) resolveIdentity(ctx context.Context, userID string, req ConfirmLinkRequest, now time.Time) (*identitydomain.Identity, error) {
	identity := &identitydomain.Identity{
		ID:        uuid.New().String(),
		UserID:    userID,
		Provider:  req.Provider,
		Metadata:  make(map[string]string, len(req.Metadata)),
		CreatedAt: now,
	}
	for k, v := range req.Metadata {
		identity.Metadata[k] = v
	}

	switch req.Provider {
	case identitydomain.ProviderEmail:
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email == "" {
			return nil, ErrEmailRequired
		}
		if req.Password == "" {
			return nil, ErrPasswordRequired
		}
		hash, err := c.hasher.Hash([]byte(req.Password))
		if err != nil {
			return nil, err
		}
		identity.ProviderUserID = email
		identity.Email = email
		identity.PasswordHash = hash

	case identitydomain.ProviderGoogle:
		if req.GoogleIDToken != "" {
			claims, err := c.google.Verify(ctx, req.GoogleIDToken)
			if err != nil {
				return nil, err
			}
			identity.ProviderUserID = claims.Subject
			identity.Email = claims.Email
			setIfPresent(identity.Metadata, "name", claims.Name)
			setIfPresent(identity.Metadata, "picture", claims.Picture)
			setIfPresent(identity.Metadata, "locale", claims.Locale)
			break
		}
		if req.ProviderUserID == "" {
			return nil, ErrProviderUserIDRequired
		}
		identity.ProviderUserID = req.ProviderUserID

	case identitydomain.ProviderTelegram:
		if req.TelegramInitData != "" {
			user, err := c.telegram.Verify(req.TelegramInitData)
			if err != nil {
				return nil, err
			}
			identity.ProviderUserID = strconv.FormatInt(user.ID, 10)
			setIfPresent(identity.Metadata, "username", user.Username)
			setIfPresent(identity.Metadata, "first_name", user.FirstName)
			setIfPresent(identity.Metadata, "last_name", user.LastName)
			setIfPresent(identity.Metadata, "language_code", user.LanguageCode)
			break
		}
		if req.ProviderUserID == "" {
			return nil, ErrProviderUserIDRequired
		}
		identity.ProviderUserID = req.ProviderUserID

	default:
		return nil, fmt.Errorf("unsupported provider %q", req.Provider)
	}
	return identity, nil
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
