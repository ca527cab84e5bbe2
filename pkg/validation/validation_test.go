package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/validation"
)

func TestValidatePhone(t *testing.T) {
	for _, phone := range []string{"6281234567890", "+6281234567890", "15551234567", " 15551234567 "} {
		assert.NoError(t, validation.ValidatePhone(phone), phone)
	}

	for _, phone := range []string{"", "081234567890", "+0812", "12345", "abc123", "628 123"} {
		assert.Error(t, validation.ValidatePhone(phone), phone)
	}
}

func TestValidateEmoji(t *testing.T) {
	for _, emoji := range []string{"💙", "🔥", "👍"} {
		assert.NoError(t, validation.ValidateEmoji(emoji), emoji)
	}

	for _, emoji := range []string{"", "x", "💙💙", "no emoji", "💙!"} {
		assert.Error(t, validation.ValidateEmoji(emoji), emoji)
	}
}

func TestValidatePrefix(t *testing.T) {
	for _, prefix := range []string{".", "!", "!!", "cmd"} {
		assert.NoError(t, validation.ValidatePrefix(prefix), prefix)
	}

	for _, prefix := range []string{"", "    ", "! ", "long"} {
		assert.Error(t, validation.ValidatePrefix(prefix), prefix)
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, validation.ValidateURL("https://example.com/video?id=1"))
	assert.NoError(t, validation.ValidateURL(" https://vt.tiktok.com/abc "))

	assert.Error(t, validation.ValidateURL(""))
	assert.Error(t, validation.ValidateURL("not a url"))
}
