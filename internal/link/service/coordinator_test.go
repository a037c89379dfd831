package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/identity/provider"
	"identity-gateway/internal/link/domain"
	"identity-gateway/internal/link/repository"
	"identity-gateway/internal/security"
)

type fakeLinkRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.LinkToken
	linked []*identitydomain.Identity
	// forcedErr, when set, is returned by ConsumeAndLink to simulate losing a race.
	forcedErr error
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{tokens: make(map[string]*domain.LinkToken)}
}

func (r *fakeLinkRepo) GetByTokenHash(_ context.Context, tokenHash string) (*domain.LinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeLinkRepo) Create(_ context.Context, t *domain.LinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *t
	r.tokens[t.ID] = &copied
	return nil
}

func (r *fakeLinkRepo) ConsumeAndLink(_ context.Context, tokenID string, identity *identitydomain.Identity, backfillEmail string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedErr != nil {
		return r.forcedErr
	}
	t, ok := r.tokens[tokenID]
	if !ok || t.ConsumedAt != nil {
		return repository.ErrTokenConsumed
	}
	consumedAt := now
	t.ConsumedAt = &consumedAt
	copied := *identity
	r.linked = append(r.linked, &copied)
	return nil
}

type fakeIdentityRepo struct {
	mu         sync.Mutex
	identities []*identitydomain.Identity
}

func (r *fakeIdentityRepo) GetByProviderID(_ context.Context, p identitydomain.Provider, providerUserID string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.Provider == p && i.ProviderUserID == providerUserID {
			copied := *i
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeIdentityRepo) GetByUserAndProvider(_ context.Context, userID string, p identitydomain.Provider) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.UserID == userID && i.Provider == p {
			copied := *i
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeIdentityRepo) Create(_ context.Context, i *identitydomain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *i
	r.identities = append(r.identities, &copied)
	return nil
}

func (r *fakeIdentityRepo) UpdateMetadata(_ context.Context, id string, metadata map[string]string) error {
	return nil
}

type fakeGoogleVerifier struct {
	claims *provider.GoogleClaims
	err    error
}

func (v *fakeGoogleVerifier) Verify(_ context.Context, _ string) (*provider.GoogleClaims, error) {
	return v.claims, v.err
}

type fakeTelegramVerifier struct {
	user *provider.TelegramUser
	err  error
}

func (v *fakeTelegramVerifier) Verify(_ string) (*provider.TelegramUser, error) {
	return v.user, v.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeLinkRepo, *fakeIdentityRepo) {
	t.Helper()
	links := newFakeLinkRepo()
	identities := &fakeIdentityRepo{}
	google := &fakeGoogleVerifier{claims: &provider.GoogleClaims{
		Subject: "g-sub-1",
		Email:   "ada@example.com",
		Name:    "Ada L",
	}}
	telegram := &fakeTelegramVerifier{user: &provider.TelegramUser{ID: 924502525, Username: "adal"}}
	c := NewCoordinator(links, identities, security.NewHasher(1024, 1, 1), google, telegram, 10*time.Minute)
	return c, links, identities
}

func TestCoordinator_StartLinkPersistsHashOnly(t *testing.T) {
	c, links, _ := newTestCoordinator(t)

	raw, err := c.StartLink(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("StartLink: %v", err)
	}
	if raw == "" {
		t.Fatal("expected non-empty raw token")
	}
	stored, err := links.GetByTokenHash(context.Background(), security.HashToken(raw))
	if err != nil || stored == nil {
		t.Fatalf("token not stored by hash: %v", err)
	}
	if stored.TokenHash == raw {
		t.Error("raw token stored instead of its hash")
	}
	if stored.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", stored.UserID)
	}
}

func TestCoordinator_ConfirmLinkEmail(t *testing.T) {
	c, links, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	identity, err := c.ConfirmLink(context.Background(), "user-1", ConfirmLinkRequest{
		LinkToken: raw,
		Provider:  identitydomain.ProviderEmail,
		Email:     "  Ada@Example.COM ",
		Password:  "correct horse battery",
	})
	if err != nil {
		t.Fatalf("ConfirmLink: %v", err)
	}
	if identity.ProviderUserID != "ada@example.com" || identity.Email != "ada@example.com" {
		t.Errorf("normalized email = %q/%q", identity.ProviderUserID, identity.Email)
	}
	if identity.PasswordHash == "" || identity.PasswordHash == "correct horse battery" {
		t.Error("password not hashed")
	}
	if err := security.NewHasher(1024, 1, 1).Compare(identity.PasswordHash, []byte("correct horse battery")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
	if len(links.linked) != 1 {
		t.Fatalf("linked identities = %d, want 1", len(links.linked))
	}
}

func TestCoordinator_ConfirmLinkIsSingleUse(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	req := ConfirmLinkRequest{
		LinkToken:      raw,
		Provider:       identitydomain.ProviderTelegram,
		ProviderUserID: "924502525",
	}
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != nil {
		t.Fatalf("first ConfirmLink: %v", err)
	}
	req.ProviderUserID = "111111111"
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != ErrExpiredLinkToken {
		t.Errorf("second ConfirmLink: want ErrExpiredLinkToken, got %v", err)
	}
}

func TestCoordinator_ConfirmLinkWrongUser(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	req := ConfirmLinkRequest{LinkToken: raw, Provider: identitydomain.ProviderGoogle, ProviderUserID: "g-sub-9"}
	if _, err := c.ConfirmLink(context.Background(), "user-2", req); err != ErrInvalidLinkToken {
		t.Errorf("other user's token: want ErrInvalidLinkToken, got %v", err)
	}
	req.LinkToken = "never-issued"
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != ErrInvalidLinkToken {
		t.Errorf("unknown token: want ErrInvalidLinkToken, got %v", err)
	}
}

func TestCoordinator_ConfirmLinkExpiredToken(t *testing.T) {
	c, links, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	links.mu.Lock()
	for _, tok := range links.tokens {
		tok.ExpiresAt = time.Now().Add(-time.Minute)
	}
	links.mu.Unlock()

	req := ConfirmLinkRequest{LinkToken: raw, Provider: identitydomain.ProviderGoogle, ProviderUserID: "g-sub-9"}
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != ErrExpiredLinkToken {
		t.Errorf("expired token: want ErrExpiredLinkToken, got %v", err)
	}
}

func TestCoordinator_ConfirmLinkRequiredFields(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	cases := []struct {
		name string
		req  ConfirmLinkRequest
		want error
	}{
		{"email without address", ConfirmLinkRequest{Provider: identitydomain.ProviderEmail, Password: "pw"}, ErrEmailRequired},
		{"email without password", ConfirmLinkRequest{Provider: identitydomain.ProviderEmail, Email: "a@b.co"}, ErrPasswordRequired},
		{"google without proof or id", ConfirmLinkRequest{Provider: identitydomain.ProviderGoogle}, ErrProviderUserIDRequired},
		{"telegram without proof or id", ConfirmLinkRequest{Provider: identitydomain.ProviderTelegram}, ErrProviderUserIDRequired},
	}
	for _, tc := range cases {
		raw, _ := c.StartLink(context.Background(), "user-1")
		tc.req.LinkToken = raw
		if _, err := c.ConfirmLink(context.Background(), "user-1", tc.req); err != tc.want {
			t.Errorf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCoordinator_ConfirmLinkGoogleProofWinsOverCallerMetadata(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	identity, err := c.ConfirmLink(context.Background(), "user-1", ConfirmLinkRequest{
		LinkToken:     raw,
		Provider:      identitydomain.ProviderGoogle,
		GoogleIDToken: "id-token",
		// Caller claims a different subject and name; verified values win.
		ProviderUserID: "spoofed",
		Metadata:       map[string]string{"name": "Impostor", "client": "ios"},
	})
	if err != nil {
		t.Fatalf("ConfirmLink: %v", err)
	}
	if identity.ProviderUserID != "g-sub-1" {
		t.Errorf("ProviderUserID = %q, want verified g-sub-1", identity.ProviderUserID)
	}
	if identity.Metadata["name"] != "Ada L" {
		t.Errorf("metadata name = %q, want verified Ada L", identity.Metadata["name"])
	}
	if identity.Metadata["client"] != "ios" {
		t.Errorf("caller metadata dropped: %v", identity.Metadata)
	}
}

func TestCoordinator_ConfirmLinkVerifierFailurePropagates(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.google = &fakeGoogleVerifier{err: provider.ErrInvalidProviderToken}
	raw, _ := c.StartLink(context.Background(), "user-1")

	_, err := c.ConfirmLink(context.Background(), "user-1", ConfirmLinkRequest{
		LinkToken:     raw,
		Provider:      identitydomain.ProviderGoogle,
		GoogleIDToken: "bad",
	})
	if err != provider.ErrInvalidProviderToken {
		t.Errorf("want ErrInvalidProviderToken, got %v", err)
	}
}

func TestCoordinator_ConfirmLinkAlreadyLinked(t *testing.T) {
	c, links, identities := newTestCoordinator(t)
	identities.identities = append(identities.identities, &identitydomain.Identity{
		ID: "i-1", UserID: "user-2", Provider: identitydomain.ProviderTelegram, ProviderUserID: "924502525",
	})
	raw, _ := c.StartLink(context.Background(), "user-1")

	req := ConfirmLinkRequest{LinkToken: raw, Provider: identitydomain.ProviderTelegram, ProviderUserID: "924502525"}
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != ErrIdentityAlreadyLinked {
		t.Errorf("taken identity: want ErrIdentityAlreadyLinked, got %v", err)
	}

	// Losing the insert race maps to the same error.
	identities.identities = nil
	links.forcedErr = repository.ErrIdentityTaken
	raw, _ = c.StartLink(context.Background(), "user-1")
	req.LinkToken = raw
	if _, err := c.ConfirmLink(context.Background(), "user-1", req); err != ErrIdentityAlreadyLinked {
		t.Errorf("identity race: want ErrIdentityAlreadyLinked, got %v", err)
	}
}

func TestCoordinator_ConfirmLinkUnsupportedProvider(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	raw, _ := c.StartLink(context.Background(), "user-1")

	_, err := c.ConfirmLink(context.Background(), "user-1", ConfirmLinkRequest{LinkToken: raw, Provider: "GITHUB"})
	if err == nil || errors.Is(err, ErrInvalidLinkToken) {
		t.Errorf("unsupported provider: got %v", err)
	}
}
