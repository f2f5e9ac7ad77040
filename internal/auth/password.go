package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordHasher hashes and verifies secrets: user passwords, gateway
// device secrets and reset request codes.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches digest. Malformed digests
	// yield false, never an error.
	Verify(plaintext, digest string) bool
}

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2Params follow the OWASP 2025 recommendation.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
}

const (
	argonKeyLen  = 32 // output hash length
	argonSaltLen = 16 // salt length

	// maxArgonMemory rejects stored digests demanding more than 1 GiB.
	maxArgonMemory = 1 << 20
)

// Argon2Hasher implements PasswordHasher with Argon2id and the PHC string
// format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns a hasher using params. Zero fields fall back to
// DefaultArgon2Params.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	if params.Time == 0 {
		params.Time = DefaultArgon2Params.Time
	}
	if params.Memory == 0 {
		params.Memory = DefaultArgon2Params.Memory
	}
	if params.Threads == 0 {
		params.Threads = DefaultArgon2Params.Threads
	}
	return &Argon2Hasher{params: params}
}

// Hash returns the PHC encoding of plaintext under a fresh random salt.
func (h *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.Memory, h.params.Threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks plaintext against a PHC digest using the parameters
// recorded in the digest, so changing the configured cost does not
// invalidate stored hashes.
func (h *Argon2Hasher) Verify(plaintext, digest string) bool {
	salt, hash, params, err := decodePHC(digest)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, params.Time, params.Memory, params.Threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params Argon2Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}
	if params.Time == 0 || params.Threads == 0 || params.Memory == 0 || params.Memory > maxArgonMemory {
		return nil, nil, params, fmt.Errorf("argon2 parameters out of range")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, params, fmt.Errorf("empty hash")
	}

	return salt, hash, params, nil
}
