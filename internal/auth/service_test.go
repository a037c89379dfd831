package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	identitydomain "identity-gateway/internal/identity/domain"
	"identity-gateway/internal/identity/provider"
	identityrepo "identity-gateway/internal/identity/repository"
	linksvc "identity-gateway/internal/link/service"
	"identity-gateway/internal/ratelimit"
	"identity-gateway/internal/security"
	sessionsvc "identity-gateway/internal/session/service"
	userdomain "identity-gateway/internal/user/domain"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*userdomain.User)}
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *u
	r.users[u.ID] = &copied
	return nil
}

func (r *fakeUserRepo) BackfillEmail(_ context.Context, userID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok && u.Email == "" {
		u.Email = email
	}
	return nil
}

type fakeIdentityRepo struct {
	mu         sync.Mutex
	identities []*identitydomain.Identity
	createErr  error
	updates    int
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

func (r *fakeIdentityRepo) Create(_ context.Context, i *identitydomain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *i
	r.identities = append(r.identities, &copied)
	return nil
}

func (r *fakeIdentityRepo) UpdateMetadata(_ context.Context, id string, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	for _, i := range r.identities {
		if i.ID == id {
			i.Metadata = metadata
		}
	}
	return nil
}

type fakeSessionManager struct {
	mu      sync.Mutex
	issued  []string
	revoked []string
	rotErr  error
}

func (m *fakeSessionManager) Issue(_ context.Context, userID string, role userdomain.Role, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, userID)
	return &sessionsvc.TokenPair{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresIn:    300,
		SessionID:    "sess-" + userID,
		UserID:       userID,
	}, nil
}

func (m *fakeSessionManager) Rotate(_ context.Context, refreshToken string, meta sessionsvc.Metadata) (*sessionsvc.TokenPair, error) {
	if m.rotErr != nil {
		return nil, m.rotErr
	}
	return &sessionsvc.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2", SessionID: "sess-2", UserID: "user-1"}, nil
}

func (m *fakeSessionManager) Revoke(_ context.Context, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, refreshToken)
	return nil
}

type fakeLinkCoordinator struct {
	confirmErr error
}

func (c *fakeLinkCoordinator) StartLink(_ context.Context, userID string) (string, error) {
	return "link-token-" + userID, nil
}

func (c *fakeLinkCoordinator) ConfirmLink(_ context.Context, userID string, req linksvc.ConfirmLinkRequest) (*identitydomain.Identity, error) {
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}
	return &identitydomain.Identity{ID: "i-1", UserID: userID, Provider: req.Provider}, nil
}

type fakeGoogle struct {
	claims *provider.GoogleClaims
	err    error
}

func (g *fakeGoogle) Verify(_ context.Context, _ string) (*provider.GoogleClaims, error) {
	return g.claims, g.err
}

type fakeTelegram struct {
	user *provider.TelegramUser
	err  error
}

func (t *fakeTelegram) Verify(_ string) (*provider.TelegramUser, error) {
	return t.user, t.err
}

type capturedEvent struct {
	userID, action, outcome string
}

type captureAudit struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (a *captureAudit) LogEvent(_ context.Context, userID, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	outcome := "success"
	if strings.Contains(metadata, "failure") {
		outcome = "failure"
	}
	a.events = append(a.events, capturedEvent{userID: userID, action: action, outcome: outcome})
}

type testHarness struct {
	svc        *Service
	users      *fakeUserRepo
	identities *fakeIdentityRepo
	sessions   *fakeSessionManager
	links      *fakeLinkCoordinator
	audit      *captureAudit
}

func newTestService(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		users:      newFakeUserRepo(),
		identities: &fakeIdentityRepo{},
		sessions:   &fakeSessionManager{},
		links:      &fakeLinkCoordinator{},
		audit:      &captureAudit{},
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultPolicies(), ratelimit.GlobalRules(), true)
	google := &fakeGoogle{claims: &provider.GoogleClaims{
		Subject: "g-sub-1", Email: "Ada@Example.com", EmailVerified: true, Name: "Ada L",
	}}
	telegram := &fakeTelegram{user: &provider.TelegramUser{ID: 924502525, Username: "adal"}}
	h.svc = NewService(h.users, h.identities, h.sessions, h.links, limiter,
		security.NewHasher(1024, 1, 1), google, telegram, h.audit, nil)
	return h
}

func seedEmailUser(t *testing.T, h *testHarness, email, password string) string {
	t.Helper()
	userID, err := h.svc.RegisterEmail(context.Background(), email, password, sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("RegisterEmail: %v", err)
	}
	return userID
}

func TestService_RegisterEmail(t *testing.T) {
	h := newTestService(t)

	userID := seedEmailUser(t, h, "  Ada@Example.COM ", "correct horse battery")
	user, err := h.users.GetByID(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("email = %q, want normalized ada@example.com", user.Email)
	}
	if user.Role != userdomain.RoleUser {
		t.Errorf("role = %q, want USER", user.Role)
	}

	ident, err := h.identities.GetByProviderID(context.Background(), identitydomain.ProviderEmail, "ada@example.com")
	if err != nil || ident == nil {
		t.Fatalf("identity not created: %v", err)
	}
	if ident.PasswordHash == "" || ident.PasswordHash == "correct horse battery" {
		t.Error("password stored unhashed")
	}

	if _, err := h.svc.RegisterEmail(context.Background(), "ada@example.com", "other password", sessionsvc.Metadata{IP: "10.0.0.1"}); err != ErrAlreadyRegistered {
		t.Errorf("duplicate register: want ErrAlreadyRegistered, got %v", err)
	}
}

func TestService_RegisterEmail_Validation(t *testing.T) {
	h := newTestService(t)
	for _, tc := range []struct{ email, password string }{
		{"not-an-email", "long enough password"},
		{"", "long enough password"},
		{"ada@example.com", ""},
	} {
		if _, err := h.svc.RegisterEmail(context.Background(), tc.email, tc.password, sessionsvc.Metadata{IP: "10.0.0.1"}); err != ErrInvalidCredentials {
			t.Errorf("RegisterEmail(%q, %q): want ErrInvalidCredentials, got %v", tc.email, tc.password, err)
		}
	}
}

func TestService_RegisterEmail_LosesCreateRace(t *testing.T) {
	h := newTestService(t)
	h.identities.createErr = identityrepo.ErrDuplicateIdentity

	if _, err := h.svc.RegisterEmail(context.Background(), "ada@example.com", "pw-pw-pw-pw", sessionsvc.Metadata{IP: "10.0.0.1"}); err != ErrAlreadyRegistered {
		t.Errorf("create race: want ErrAlreadyRegistered, got %v", err)
	}
}

func TestService_RegisterEmail_EmailHeldByProviderUser(t *testing.T) {
	h := newTestService(t)

	// A Google-only user already owns the address; there is no EMAIL identity.
	if _, err := h.svc.LoginGoogle(context.Background(), "id-token", sessionsvc.Metadata{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("LoginGoogle: %v", err)
	}
	if _, err := h.svc.RegisterEmail(context.Background(), "ada@example.com", "some password", sessionsvc.Metadata{IP: "10.0.0.2"}); err != ErrAlreadyRegistered {
		t.Errorf("register over provider user: want ErrAlreadyRegistered, got %v", err)
	}
}

func TestService_LoginEmail(t *testing.T) {
	h := newTestService(t)
	userID := seedEmailUser(t, h, "ada@example.com", "correct horse battery")

	pair, err := h.svc.LoginEmail(context.Background(), "ADA@example.com", "correct horse battery", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("LoginEmail: %v", err)
	}
	if pair.UserID != userID {
		t.Errorf("pair.UserID = %q, want %q", pair.UserID, userID)
	}
	if len(h.sessions.issued) != 1 || h.sessions.issued[0] != userID {
		t.Errorf("sessions issued = %v", h.sessions.issued)
	}
}

func TestService_LoginEmail_UniformFailures(t *testing.T) {
	h := newTestService(t)
	seedEmailUser(t, h, "ada@example.com", "correct horse battery")

	cases := []struct{ email, password string }{
		{"nobody@example.com", "correct horse battery"}, // unknown email
		{"ada@example.com", "wrong password"},           // wrong password
		{"ada@example.com", ""},                         // empty password
	}
	for _, tc := range cases {
		if _, err := h.svc.LoginEmail(context.Background(), tc.email, tc.password, sessionsvc.Metadata{IP: "10.0.0.1"}); err != ErrInvalidCredentials {
			t.Errorf("LoginEmail(%q): want ErrInvalidCredentials, got %v", tc.email, err)
		}
	}
	if len(h.sessions.issued) != 0 {
		t.Errorf("sessions issued on failed login: %v", h.sessions.issued)
	}
}

func TestService_LoginEmail_RateLimited(t *testing.T) {
	h := newTestService(t)
	seedEmailUser(t, h, "ada@example.com", "correct horse battery")

	// The per-subject rule allows 5 attempts per window; the sixth is refused
	// before the password is even checked.
	var err error
	for i := 0; i < 6; i++ {
		_, err = h.svc.LoginEmail(context.Background(), "ada@example.com", "wrong password", sessionsvc.Metadata{IP: "10.0.0.1"})
	}
	var exceeded *ratelimit.LimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("sixth attempt: want LimitExceededError, got %v", err)
	}
	if exceeded.RetryAfterSeconds < 1 {
		t.Errorf("RetryAfterSeconds = %d, want >= 1", exceeded.RetryAfterSeconds)
	}
}

func TestService_LoginGoogle_FirstLoginCreatesUser(t *testing.T) {
	h := newTestService(t)

	pair, err := h.svc.LoginGoogle(context.Background(), "id-token", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("LoginGoogle: %v", err)
	}
	user, err := h.users.GetByID(context.Background(), pair.UserID)
	if err != nil || user == nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("email = %q, want verified claim email", user.Email)
	}

	// Second login reuses the user and refreshes metadata.
	pair2, err := h.svc.LoginGoogle(context.Background(), "id-token", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("second LoginGoogle: %v", err)
	}
	if pair2.UserID != pair.UserID {
		t.Errorf("second login user = %q, want %q", pair2.UserID, pair.UserID)
	}
	if h.identities.updates != 1 {
		t.Errorf("metadata updates = %d, want 1", h.identities.updates)
	}
}

func TestService_LoginGoogle_BackfillsMissingEmail(t *testing.T) {
	h := newTestService(t)

	// User created before Google started reporting a verified email.
	if err := h.users.Create(context.Background(), &userdomain.User{ID: "u-1", Role: userdomain.RoleUser}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	err := h.identities.Create(context.Background(), &identitydomain.Identity{
		ID: "i-1", UserID: "u-1", Provider: identitydomain.ProviderGoogle, ProviderUserID: "g-sub-1",
	})
	if err != nil {
		t.Fatalf("seed identity: %v", err)
	}

	if _, err := h.svc.LoginGoogle(context.Background(), "id-token", sessionsvc.Metadata{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("LoginGoogle: %v", err)
	}
	user, err := h.users.GetByID(context.Background(), "u-1")
	if err != nil || user == nil {
		t.Fatalf("user lookup: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Errorf("email = %q, want backfilled ada@example.com", user.Email)
	}
}

func TestService_LoginGoogle_VerifierFailure(t *testing.T) {
	h := newTestService(t)
	h.svc.google = &fakeGoogle{err: provider.ErrInvalidProviderToken}

	if _, err := h.svc.LoginGoogle(context.Background(), "bad", sessionsvc.Metadata{IP: "10.0.0.1"}); err != provider.ErrInvalidProviderToken {
		t.Errorf("want ErrInvalidProviderToken, got %v", err)
	}
	if len(h.users.users) != 0 {
		t.Error("user created despite failed verification")
	}
}

func TestService_LoginTelegram_FirstLoginCreatesUser(t *testing.T) {
	h := newTestService(t)

	pair, err := h.svc.LoginTelegram(context.Background(), "init-data", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("LoginTelegram: %v", err)
	}
	ident, err := h.identities.GetByProviderID(context.Background(), identitydomain.ProviderTelegram, "924502525")
	if err != nil || ident == nil {
		t.Fatalf("identity not created: %v", err)
	}
	if ident.UserID != pair.UserID {
		t.Errorf("identity user = %q, want %q", ident.UserID, pair.UserID)
	}
	if ident.Metadata["username"] != "adal" {
		t.Errorf("metadata = %v", ident.Metadata)
	}
}

func TestService_Refresh(t *testing.T) {
	h := newTestService(t)

	pair, err := h.svc.Refresh(context.Background(), "refresh-1", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken = %q", pair.RefreshToken)
	}

	h.sessions.rotErr = sessionsvc.ErrInvalidRefreshToken
	if _, err := h.svc.Refresh(context.Background(), "stale", sessionsvc.Metadata{IP: "10.0.0.1"}); err != sessionsvc.ErrInvalidRefreshToken {
		t.Errorf("stale refresh: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestService_Logout(t *testing.T) {
	h := newTestService(t)

	if err := h.svc.Logout(context.Background(), "refresh-1", sessionsvc.Metadata{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(h.sessions.revoked) != 1 || h.sessions.revoked[0] != "refresh-1" {
		t.Errorf("revoked = %v", h.sessions.revoked)
	}
}

func TestService_LinkOperations(t *testing.T) {
	h := newTestService(t)

	token, err := h.svc.StartLink(context.Background(), "user-1", sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("StartLink: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty link token")
	}

	identity, err := h.svc.ConfirmLink(context.Background(), "user-1", linksvc.ConfirmLinkRequest{
		LinkToken: token,
		Provider:  identitydomain.ProviderTelegram,
	}, sessionsvc.Metadata{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("ConfirmLink: %v", err)
	}
	if identity.UserID != "user-1" {
		t.Errorf("identity.UserID = %q", identity.UserID)
	}

	h.links.confirmErr = linksvc.ErrExpiredLinkToken
	if _, err := h.svc.ConfirmLink(context.Background(), "user-1", linksvc.ConfirmLinkRequest{LinkToken: token}, sessionsvc.Metadata{IP: "10.0.0.1"}); err != linksvc.ErrExpiredLinkToken {
		t.Errorf("want ErrExpiredLinkToken, got %v", err)
	}
}

func TestService_AuditRecordsFailures(t *testing.T) {
	h := newTestService(t)
	seedEmailUser(t, h, "ada@example.com", "correct horse battery")

	_, _ = h.svc.LoginEmail(context.Background(), "ada@example.com", "wrong password", sessionsvc.Metadata{IP: "10.0.0.1"})

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	var found bool
	for _, e := range h.audit.events {
		if e.action == "auth.login_email" && e.outcome == "failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("no failure audit event recorded: %+v", h.audit.events)
	}
}
