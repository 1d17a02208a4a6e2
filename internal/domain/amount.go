package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money value in minor units (cents).
type Amount int64

// MaxAmount caps a single parsed amount at 1,000,000,000.00.
const MaxAmount Amount = 100_000_000_000

var hundred = decimal.NewFromInt(100)

// ParseAmount parses user input such as "100", "40.5" or "1,250.00" into an
// Amount. The value must be positive, have at most two fractional digits and
// not exceed MaxAmount; otherwise ErrInvalidAmount is returned.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	if strings.Contains(s, ",") {
		if !validGrouping(s) {
			return 0, ErrInvalidAmount
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred)
	if !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, ErrInvalidAmount
	}
	return Amount(cents.IntPart()), nil
}

// validGrouping accepts "1,234" style thousands separators only.
func validGrouping(s string) bool {
	intPart := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		if strings.Contains(s[i:], ",") {
			return false
		}
	}
	groups := strings.Split(intPart, ",")
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount with two fractional digits, e.g. "1000.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Display renders the amount with thousands separators and a dollar sign, e.g. "$1,000.00".
func (a Amount) Display() string {
	s := a.String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
