package session

import (
	"errors"
	"strings"
)

// IdentityKey is the normalized phone number that identifies one session.
// Two keys are equal iff their digit sequences are equal.
type IdentityKey string

var ErrInvalidIdentity = errors.New("identity must contain at least 6 digits")

// NormalizeIdentity strips every non-digit character from raw.
func NormalizeIdentity(raw string) (IdentityKey, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 6 || digits[0] == '0' {
		return "", ErrInvalidIdentity
	}
	return IdentityKey(digits), nil
}

func (k IdentityKey) String() string {
	return string(k)
}

// Masked hides the last four digits for log output.
func (k IdentityKey) Masked() string {
	s := string(k)
	if len(s) < 4 {
		return s
	}
	return s[:len(s)-4] + "xxxx"
}
