// Package security derives and verifies salted PIN credentials.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"atm-terminal/backend/internal/domain"
)

const (
	// SaltSize is the length in bytes of every generated salt.
	SaltSize = 16
	// KeySize is the length in bytes of the derived PIN hash.
	KeySize = 32
	// MinIterations is the floor for PBKDF2 iterations.
	MinIterations = 100_000
	// DefaultIterations is used when the configured value is zero.
	DefaultIterations = 600_000
)

// ErrCorruptCredential is returned when a stored salt or hash has the wrong
// shape. It signals an integrity fault in storage and must not be retried.
var ErrCorruptCredential = errors.New("stored credential is malformed")

// Hasher derives PIN credentials with PBKDF2-HMAC-SHA256. Iterations applies to
// new credentials only; Verify uses the count stored with each credential.
// Callers must not log or persist plaintext PINs.
type Hasher struct {
	Iterations int
	dummy      domain.Credential
}

// NewHasher returns a Hasher with the given iteration count; zero means
// DefaultIterations and anything below MinIterations is raised to it.
func NewHasher(iterations int) *Hasher {
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		iterations = MinIterations
	}
	h := &Hasher{Iterations: iterations}
	salt := make([]byte, SaltSize)
	_, _ = rand.Read(salt)
	h.dummy = domain.Credential{Salt: salt, Hash: key([]byte("0000"), salt, iterations), Iterations: iterations}
	return h
}

// Derive returns the credential for pin. A nil salt generates a fresh random
// one; the same (pin, salt) always yields the same hash.
func (h *Hasher) Derive(pin string, salt []byte) (domain.Credential, error) {
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return domain.Credential{}, err
		}
	} else if len(salt) != SaltSize {
		return domain.Credential{}, ErrCorruptCredential
	}
	return domain.Credential{Salt: salt, Hash: key([]byte(pin), salt, h.Iterations), Iterations: h.Iterations}, nil
}

// Verify recomputes the hash for candidate with the stored salt and iteration
// count and compares in constant time. A malformed credential, including one
// with fewer than MinIterations, yields ErrCorruptCredential.
func (h *Hasher) Verify(cred domain.Credential, candidate string) (bool, error) {
	if len(cred.Salt) != SaltSize || len(cred.Hash) != KeySize || cred.Iterations < MinIterations {
		return false, ErrCorruptCredential
	}
	got := key([]byte(candidate), cred.Salt, cred.Iterations)
	return subtle.ConstantTimeCompare(got, cred.Hash) == 1, nil
}

// VerifyDummy spends the same work as Verify against a throwaway credential so
// unknown usernames cannot be told apart by response time. Always false.
func (h *Hasher) VerifyDummy(candidate string) bool {
	_, _ = h.Verify(h.dummy, candidate)
	return false
}

// NeedsRehash reports whether cred was derived with a different iteration
// count than h currently uses.
func (h *Hasher) NeedsRehash(cred domain.Credential) bool {
	return cred.Iterations != h.Iterations
}

func key(pin, salt []byte, iterations int) []byte {
	return pbkdf2.Key(pin, salt, iterations, KeySize, sha256.New)
}
