// Package provider verifies external credentials (Google ID tokens, Telegram
// signed launch payloads) and returns canonical provider identities.
package provider

import "errors"

// Sentinel errors for credential verification; callers map them to transport codes.
var (
	// ErrProviderDisabled means the provider is not configured (no client id
	// or shared secret). Checked before any verification work.
	ErrProviderDisabled = errors.New("identity provider is not configured")
	// ErrInvalidProviderToken means an OAuth ID token failed verification or
	// carried no subject.
	ErrInvalidProviderToken = errors.New("invalid provider token")
	// ErrInvalidSignature means a signed launch payload's hash is missing,
	// malformed, or does not match the computed signature.
	ErrInvalidSignature = errors.New("invalid payload signature")
	// ErrInvalidPayload means a signed launch payload is structurally invalid
	// (bad auth_date, missing or non-numeric user id).
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrPayloadExpired means the payload's auth_date is older than the
	// configured maximum age.
	ErrPayloadExpired = errors.New("payload expired")
)
