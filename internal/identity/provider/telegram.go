package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// telegramSecretKeyLabel is the fixed HMAC key Telegram prescribes for
// deriving the per-bot secret from the bot token.
const telegramSecretKeyLabel = "WebAppData"

var telegramHashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// TelegramUser is the canonical identity extracted from a verified launch payload.
type TelegramUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
	IsPremium    bool   `json:"is_premium"`
}

// TelegramVerifier verifies Telegram Web App launch payloads (initData). The
// verification must match the issuing client byte-for-byte, so the data-check
// string construction and HMAC chain follow Telegram's published algorithm
// exactly.
type TelegramVerifier struct {
	botToken      string
	maxAgeSeconds int64
	now           func() time.Time
}

// NewTelegramVerifier returns a TelegramVerifier using botToken as the shared
// secret. An empty token disables the provider. maxAgeSeconds bounds the
// accepted auth_date age.
func NewTelegramVerifier(botToken string, maxAgeSeconds int64) *TelegramVerifier {
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = 86400
	}
	return &TelegramVerifier{botToken: botToken, maxAgeSeconds: maxAgeSeconds, now: time.Now}
}

// Enabled reports whether the provider is configured.
func (v *TelegramVerifier) Enabled() bool { return v.botToken != "" }

// Verify checks the payload's signature and freshness and returns the user it
// carries. Returns ErrProviderDisabled when no bot token is configured,
// ErrInvalidSignature for a missing/malformed/mismatched hash,
// ErrPayloadExpired for a stale auth_date, and ErrInvalidPayload for
// structural problems (bad auth_date, missing numeric user id).
func (v *TelegramVerifier) Verify(initData string) (*TelegramUser, error) {
	if !v.Enabled() {
		return nil, ErrProviderDisabled
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	providedHash := values.Get("hash")
	if !telegramHashPattern.MatchString(providedHash) {
		return nil, ErrInvalidSignature
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil || authDate <= 0 {
		return nil, ErrInvalidPayload
	}
	if v.now().Unix()-authDate > v.maxAgeSeconds {
		return nil, ErrPayloadExpired
	}

	// Data-check string: every field except hash, sorted by key in
	// byte-lexicographic order, rendered key=value and joined with \n.
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	dataCheckString := strings.Join(pairs, "\n")

	secretKey := hmacSHA256([]byte(telegramSecretKeyLabel), []byte(v.botToken))
	expected := hex.EncodeToString(hmacSHA256(secretKey, []byte(dataCheckString)))
	if !hmac.Equal([]byte(expected), []byte(providedHash)) {
		return nil, ErrInvalidSignature
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return nil, ErrInvalidPayload
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return nil, ErrInvalidPayload
	}
	if user.ID <= 0 {
		return nil, ErrInvalidPayload
	}
	return &user, nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
