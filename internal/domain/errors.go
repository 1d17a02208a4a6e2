package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the terminal core; callers compare with errors.Is and
// render with Message.
var (
	ErrInvalidPin        = errors.New("PIN must be exactly 4 digits")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrDuplicateUsername = errors.New("username already registered")
	ErrUnknownUser       = errors.New("unknown user")
	ErrWrongPin          = errors.New("incorrect PIN")
	ErrLockedOut         = errors.New("too many incorrect PIN attempts; account locked")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNoActiveChallenge = errors.New("no active verification code")
	ErrInvalidCode       = errors.New("verification code incorrect")
	ErrPinMismatch       = errors.New("PIN confirmation does not match")
	ErrNotConfirmed      = errors.New("transaction not confirmed")
	ErrLimitExceeded     = errors.New("amount exceeds the transaction limit")
	ErrStorageFailure    = errors.New("storage failure")
)

// StorageError wraps a fault raised by the storage collaborator. It is fatal
// for the operation that hit it but leaves the session intact.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageFailure, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports true for ErrStorageFailure so callers need not know the concrete type.
func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// Storage wraps err as a StorageError for op. Domain errors and nil pass through unchanged.
func Storage(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// AuthFailure is returned by login when the username/PIN pair is rejected.
// Unknown usernames and wrong PINs render identically; errors.Is still
// exposes the cause for audit and tests.
type AuthFailure struct {
	Cause     error
	Remaining int
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("invalid username or PIN (attempts left: %d)", e.Remaining)
}

func (e *AuthFailure) Unwrap() error { return e.Cause }

var domainErrors = []error{
	ErrInvalidPin, ErrInvalidAmount, ErrInvalidUsername, ErrDuplicateUsername,
	ErrUnknownUser, ErrWrongPin, ErrLockedOut, ErrInsufficientFunds,
	ErrNotAuthenticated, ErrNoActiveChallenge, ErrInvalidCode, ErrPinMismatch,
	ErrNotConfirmed, ErrLimitExceeded,
}

// IsDomain reports whether err is one of the recoverable domain errors.
func IsDomain(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// Message returns the text shown to the terminal user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var af *AuthFailure
	switch {
	case errors.As(err, &af):
		if af.Remaining <= 0 {
			return "Incorrect username or PIN. Too many incorrect attempts; account locked temporarily."
		}
		return fmt.Sprintf("Incorrect username or PIN. Attempts left: %d", af.Remaining)
	case errors.Is(err, ErrUnknownUser), errors.Is(err, ErrWrongPin):
		return "Incorrect username or PIN."
	case errors.Is(err, ErrLockedOut):
		return "Too many incorrect PIN attempts. Account locked temporarily."
	case errors.Is(err, ErrInvalidPin):
		return "PIN must be exactly 4 digits."
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid input. Please enter a positive numeric amount."
	case errors.Is(err, ErrInvalidUsername):
		return "Username must be 1-32 letters, digits, '.', '-' or '_'."
	case errors.Is(err, ErrDuplicateUsername):
		return "That username is already taken."
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in first."
	case errors.Is(err, ErrNoActiveChallenge):
		return "No verification code is pending. Request a new one."
	case errors.Is(err, ErrInvalidCode):
		return "Verification code incorrect."
	case errors.Is(err, ErrPinMismatch):
		return "PIN confirmation does not match."
	case errors.Is(err, ErrNotConfirmed):
		return "Transaction cancelled."
	case errors.Is(err, ErrLimitExceeded):
		return "Amount exceeds the allowed limit."
	case errors.Is(err, ErrStorageFailure):
		return "The operation could not be completed. Please try again later."
	}
	return "Unexpected error."
}
