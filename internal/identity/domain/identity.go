package domain

import "time"

// Identity represents a user's linked credential at one provider. The pair
// (Provider, ProviderUserID) is globally unique; every identity belongs to
// exactly one user.
type Identity struct {
	ID             string
	UserID         string
	Provider       Provider
	ProviderUserID string            // normalized email for EMAIL, subject for GOOGLE, numeric id as string for TELEGRAM
	Email          string            // optional
	PasswordHash   string            // present only for EMAIL
	Metadata       map[string]string // opaque provider/client attributes
	CreatedAt      time.Time
}

type Provider string

const (
	ProviderEmail    Provider = "EMAIL"
	ProviderGoogle   Provider = "GOOGLE"
	ProviderTelegram Provider = "TELEGRAM"
)

// Valid reports whether p is a known provider value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderEmail, ProviderGoogle, ProviderTelegram:
		return true
	}
	return false
}
