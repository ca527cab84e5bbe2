package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdentity(t *testing.T) {
	cases := []struct {
		in   string
		want IdentityKey
	}{
		{"628111111111", "628111111111"},
		{"+62 811-1111-111", "628111111111"},
		{"(62) 811.1111.111", "628111111111"},
		{"62811@s.whatsapp.net", "62811"},
	}
	for _, tc := range cases {
		got, err := NormalizeIdentity(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeIdentityRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "12345", "0812345678", "+0 812 345"} {
		_, err := NormalizeIdentity(in)
		assert.ErrorIs(t, err, ErrInvalidIdentity, in)
	}
}

func TestIdentityMasked(t *testing.T) {
	assert.Equal(t, "62811111xxxx", IdentityKey("628111111111").Masked())
	assert.Equal(t, "123", IdentityKey("123").Masked())
}
