package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidHash         = errors.New("malformed password hash")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Argon2Params holds the argon2id cost parameters
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns the current production cost parameters
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordHasher defines the interface for password hashing
type PasswordHasher interface {
	// Hash derives a PHC-encoded argon2id hash from a password
	Hash(password string) (string, error)
	// Verify reports whether password matches the encoded hash
	Verify(password, encoded string) (bool, error)
	// NeedsRehash reports whether the stored hash is due for an upgrade
	NeedsRehash(encoded string) bool
}

// Argon2Hasher implements PasswordHasher using argon2id.
// Stored bcrypt hashes from the previous stack still verify; NeedsRehash
// flags them so logins migrate accounts one by one.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher creates a new Argon2Hasher
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 || params.SaltLength == 0 || params.KeyLength == 0 {
		params = DefaultArgon2Params()
	}
	return &Argon2Hasher{params: params}
}

// Hash derives a PHC-encoded argon2id hash with a fresh random salt
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether password matches the encoded hash.
// Verification always uses the parameters embedded in the stored string,
// never the current config, so old hashes stay verifiable after a tuning.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	if isBcryptHash(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	params, salt, key, err := decodeArgon2Hash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	if subtle.ConstantTimeCompare(computed, key) == 1 {
		return true, nil
	}
	return false, nil
}

// NeedsRehash reports whether the stored hash should be regenerated:
// any bcrypt hash, or an argon2id hash with weaker-than-current parameters.
func (h *Argon2Hasher) NeedsRehash(encoded string) bool {
	if isBcryptHash(encoded) {
		return true
	}

	params, _, _, err := decodeArgon2Hash(encoded)
	if err != nil {
		return false
	}

	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism
}

// isBcryptHash recognizes the $2a$/$2b$/$2y$ prefix family
func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// decodeArgon2Hash parses a PHC argon2id string into its parameters, salt and key
func decodeArgon2Hash(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Argon2Params{}, nil, nil, ErrIncompatibleVersion
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}

// Ensure Argon2Hasher implements PasswordHasher
var _ PasswordHasher = (*Argon2Hasher)(nil)
