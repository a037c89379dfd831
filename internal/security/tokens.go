package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed or invalid.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims holds JWT claims for the access token. The subject is the user
// id; SessionID binds the token to the session it was issued under.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// TokenProvider issues and validates HS256 access tokens using a dedicated
// signing secret. The secret must be distinct from any token-hashing key.
// Access tokens are stateless: validation checks signature and expiry only,
// never the backing session row.
type TokenProvider struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with secret.
func NewTokenProvider(secret []byte, issuer string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{secret: secret, issuer: issuer, accessTTL: accessTTL}
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for the given user, role, and session.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(userID, role, sessionID string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:      role,
		SessionID: sessionID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(p.secret)
	return token, expiresAt, err
}

// ValidateAccess parses and validates an access token (signature, exp, iss).
// Returns userID, role, sessionID, or ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (userID, role, sessionID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	})
	if err != nil {
		return "", "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return "", "", "", ErrInvalidToken
	}
	if claims.Issuer != p.issuer || claims.Subject == "" {
		return "", "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Role, claims.SessionID, nil
}
