package provider

import (
	"context"
	"time"

	"google.golang.org/api/idtoken"
)

// GoogleClaims is the canonical identity extracted from a verified Google ID token.
type GoogleClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Locale        string
}

// validateFunc matches idtoken.Validate; injected so tests can fake the
// network-bound verification.
type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier verifies Google ID tokens against the configured OAuth
// client id. Signature, audience, and issuer checks are delegated to the
// provider's own verification routine (google.golang.org/api/idtoken).
type GoogleVerifier struct {
	clientID string
	timeout  time.Duration
	validate validateFunc
}

// NewGoogleVerifier returns a GoogleVerifier for the given OAuth client id.
// An empty client id disables the provider. timeout bounds each verification
// call; on timeout the call fails closed.
func NewGoogleVerifier(clientID string, timeout time.Duration) *GoogleVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleVerifier{clientID: clientID, timeout: timeout, validate: idtoken.Validate}
}

// Enabled reports whether the provider is configured.
func (v *GoogleVerifier) Enabled() bool { return v.clientID != "" }

// Verify validates the ID token and returns the canonical provider identity.
// Returns ErrProviderDisabled when no client id is configured, and
// ErrInvalidProviderToken on any verification failure or missing subject.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*GoogleClaims, error) {
	if !v.Enabled() {
		return nil, ErrProviderDisabled
	}
	if rawToken == "" {
		return nil, ErrInvalidProviderToken
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	payload, err := v.validate(ctx, rawToken, v.clientID)
	if err != nil {
		return nil, ErrInvalidProviderToken
	}
	if payload.Subject == "" {
		return nil, ErrInvalidProviderToken
	}
	claims := &GoogleClaims{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
		Locale:  claimString(payload.Claims, "locale"),
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok {
		claims.EmailVerified = verified
	}
	return claims, nil
}

func claimString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
