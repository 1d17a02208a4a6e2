package recovery

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CodeDigits is the length of a recovery code.
const CodeDigits = 6

const codeSpace = 1_000_000

// rejectAbove is the largest multiple of codeSpace that fits in a uint32;
// draws at or above it are discarded so every code is equally likely.
const rejectAbove = (1 << 32) / codeSpace * codeSpace

// GenerateCode returns a uniformly random zero-padded 6-digit code from crypto/rand.
func GenerateCode() (string, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return "", err
		}
		n := binary.BigEndian.Uint32(b[:])
		if n < rejectAbove {
			return fmt.Sprintf("%0*d", CodeDigits, n%codeSpace), nil
		}
	}
}

// HashCode returns the hex SHA-256 digest of code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares the digest of provided with storedHash in constant time.
func CodeEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(provided)), []byte(storedHash)) == 1
}
