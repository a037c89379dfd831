package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when a stored hash is not a valid argon2id encoded string.
var ErrInvalidHash = errors.New("invalid password hash")

// ErrPasswordMismatch is returned by Compare when the password does not match the stored hash.
var ErrPasswordMismatch = errors.New("password does not match")

const saltLen = 16
const keyLen = 32

// Hasher hashes and verifies passwords using argon2id. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
}

// NewHasher returns a Hasher with the given argon2id parameters. Zero values
// fall back to 64 MiB / 3 iterations / 2 lanes, reasonable for interactive login.
func NewHasher(memory, time uint32, parallelism uint8) *Hasher {
	if memory == 0 {
		memory = 64 * 1024
	}
	if time == 0 {
		time = 3
	}
	if parallelism == 0 {
		parallelism = 2
	}
	return &Hasher{Memory: memory, Time: time, Parallelism: parallelism}
}

// Hash produces an argon2id hash of password in the standard encoded form
// ($argon2id$v=19$m=...,t=...,p=...$salt$key). The salt is fresh per call.
func (h *Hasher) Hash(password []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey(password, salt, h.Time, h.Memory, h.Parallelism, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare verifies password against the stored encoded hash by re-deriving the
// key with the hash's own parameters and comparing in constant time. Returns
// nil on match, ErrPasswordMismatch on mismatch, ErrInvalidHash on a malformed hash.
func (h *Hasher) Compare(hash string, password []byte) error {
	memory, time, parallelism, salt, key, err := decodeHash(hash)
	if err != nil {
		return err
	}
	derived := argon2.IDKey(password, salt, time, memory, parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(derived, key) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

func decodeHash(hash string) (memory, time uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	var p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &p); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	if p == 0 || p > 255 || memory == 0 || time == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	return memory, time, uint8(p), salt, key, nil
}
