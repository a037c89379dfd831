package security

import (
	"crypto/rand"
	"encoding/base64"
)

const opaqueTokenBytes = 32 // 256 bits of entropy

// NewOpaqueToken returns a cryptographically random, URL-safe opaque token.
// The raw value is returned to the caller exactly once; only HashToken output
// may be persisted or logged.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
