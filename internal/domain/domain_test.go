package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		in   string
		want Amount
		err  bool
	}{
		{"100", 10000, false},
		{"100.00", 10000, false},
		{"40.5", 4050, false},
		{"0.01", 1, false},
		{" $1,250.75 ", 125075, false},
		{"1,000,000", 100000000, false},
		{"1000000000", 100000000000, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"0.001", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1e3", 0, true},
		{"12,34", 0, true},
		{"1,234.5,6", 0, true},
		{"1000000000.01", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.err {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseAmount(%q) err = %v, want ErrInvalidAmount", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestAmount_Format(t *testing.T) {
	if got := Amount(10000).String(); got != "100.00" {
		t.Errorf("String = %q, want 100.00", got)
	}
	if got := Amount(123456789).Display(); got != "$1,234,567.89" {
		t.Errorf("Display = %q, want $1,234,567.89", got)
	}
	if got := Amount(5).Display(); got != "$0.05" {
		t.Errorf("Display = %q, want $0.05", got)
	}
}

func TestValidatePIN(t *testing.T) {
	for _, pin := range []string{"0000", "1234", "9999"} {
		if err := ValidatePIN(pin); err != nil {
			t.Errorf("ValidatePIN(%q): %v", pin, err)
		}
	}
	for _, pin := range []string{"", "123", "12345", "12a4", " 123", "١٢٣٤"} {
		if err := ValidatePIN(pin); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("ValidatePIN(%q) = %v, want ErrInvalidPin", pin, err)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("alice_01"); err != nil {
		t.Errorf("ValidateUsername: %v", err)
	}
	for _, u := range []string{"", "has space", "x/y", "abcdefghijklmnopqrstuvwxyz0123456"} {
		if err := ValidateUsername(u); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("ValidateUsername(%q) = %v, want ErrInvalidUsername", u, err)
		}
	}
}

func TestMessage_UniformForUnknownUserAndWrongPin(t *testing.T) {
	unknown := &AuthFailure{Cause: ErrUnknownUser, Remaining: 2}
	wrong := &AuthFailure{Cause: ErrWrongPin, Remaining: 2}
	if unknown.Error() != wrong.Error() {
		t.Errorf("Error() differs: %q vs %q", unknown.Error(), wrong.Error())
	}
	if Message(unknown) != Message(wrong) {
		t.Errorf("Message differs: %q vs %q", Message(unknown), Message(wrong))
	}
	if !errors.Is(unknown, ErrUnknownUser) || !errors.Is(wrong, ErrWrongPin) {
		t.Error("AuthFailure should unwrap to its cause")
	}
}

func TestStorage_Wrapping(t *testing.T) {
	if Storage("op", nil) != nil {
		t.Error("Storage(nil) should be nil")
	}
	if err := Storage("op", ErrInsufficientFunds); err != ErrInsufficientFunds {
		t.Errorf("domain error should pass through, got %v", err)
	}
	raw := errors.New("disk full")
	err := Storage("apply transaction", raw)
	if !errors.Is(err, ErrStorageFailure) {
		t.Error("wrapped error should match ErrStorageFailure")
	}
	if !errors.Is(err, raw) {
		t.Error("wrapped error should unwrap to cause")
	}
	twice := Storage("outer", fmt.Errorf("ctx: %w", err))
	var se *StorageError
	if !errors.As(twice, &se) || se.Op != "apply transaction" {
		t.Errorf("already-wrapped error should keep inner op, got %v", twice)
	}
}
