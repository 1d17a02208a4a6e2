// Package domain holds the terminal core's entities, input validation and error taxonomy.
package domain

import (
	"time"
)

// Credential is a salted PIN digest together with the PBKDF2 iteration count
// it was derived with. Salt and Hash are never logged.
type Credential struct {
	Salt       []byte
	Hash       []byte
	Iterations int
}

// Account is the durable record for one terminal user.
type Account struct {
	ID         string
	Username   string // unique, immutable after creation
	Credential Credential
	Balance    Amount // never negative
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const maxUsernameLen = 32

// ValidatePIN checks the 4-ASCII-digit PIN format. The hasher itself does not care.
func ValidatePIN(pin string) error {
	if len(pin) != 4 {
		return ErrInvalidPin
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPin
		}
	}
	return nil
}

// ValidateUsername accepts 1-32 ASCII letters, digits, '.', '-' and '_'.
func ValidateUsername(username string) error {
	if username == "" || len(username) > maxUsernameLen {
		return ErrInvalidUsername
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_':
		default:
			return ErrInvalidUsername
		}
	}
	return nil
}
