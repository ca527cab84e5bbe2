package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

var (
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
)

// ValidatePhone ensures international format (no leading 0, digits only, length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// ValidateEmoji accepts exactly one emoji grapheme.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return errors.New("emoji cannot be empty")
	}
	if !gomoji.ContainsEmoji(emoji) || uniseg.GraphemeClusterCount(emoji) != 1 {
		return errors.New("must be a single emoji character")
	}
	return nil
}

// ValidatePrefix accepts a short command prefix without whitespace.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("prefix cannot be empty")
	}
	if len(prefix) > 3 || strings.ContainsAny(prefix, " \t\n") {
		return errors.New("prefix must be at most 3 characters without whitespace")
	}
	return nil
}

// ValidateURL ensures a non-empty valid URL when provided.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return errors.New("url must be valid")
	}
	return nil
}
