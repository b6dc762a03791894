package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddress_Valid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		email, name, want string
	}{
		{"user@example.com", "", "user@example.com"},
		{"first.last@mail.example.org", "First Last", `"First Last" <first.last@mail.example.org>`},
		{"  padded@example.co  ", "", "padded@example.co"},
		{"under_score-dash@sub-domain.example.uk", "Ops", `"Ops" <under_score-dash@sub-domain.example.uk>`},
		{"USER@EXAMPLE.COM", "", "USER@EXAMPLE.COM"},
	}

	for _, tc := range cases {
		a, err := NewAddress(tc.email, tc.name)
		require.NoError(t, err, tc.email)
		assert.Equal(t, tc.want, a.String())
	}
}

func TestNewAddress_Invalid(t *testing.T) {
	t.Parallel()

	for _, email := range []string{
		"",
		"plainaddress",
		"@example.com",
		"user@",
		"user@example",
		"user@example.c",
		"user name@example.com",
		"user@exa mple.com",
		"user@example.com\r\nBcc: victim@example.com",
	} {
		_, err := NewAddress(email, "")
		require.Error(t, err, email)

		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestNewAddress_LongTLD(t *testing.T) {
	t.Parallel()

	_, err := NewAddress("someone@example.info", "")
	require.Error(t, err, "four letter TLDs are rejected by default")

	a, err := NewAddress("someone@example.info", "", AllowLongTLD())
	require.NoError(t, err)
	assert.Equal(t, "someone@example.info", a.Email)

	_, err = NewAddress("someone@example.email", "Someone", AllowLongTLD())
	require.NoError(t, err)
}

func TestNewAddress_NameSanitized(t *testing.T) {
	t.Parallel()

	a, err := NewAddress("user@example.com", " Evil\r\nBcc: x@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "EvilBcc: x@example.com", a.Name)
	assert.NotContains(t, a.String(), "\n")
}

func TestAddress_StringEscapesQuotes(t *testing.T) {
	t.Parallel()

	a := MustAddress("user@example.com", `Jane "JJ" O\Neil`)
	assert.Equal(t, `"Jane \"JJ\" O\\Neil" <user@example.com>`, a.String())
}

func TestAddress_HeaderEncodesNonASCII(t *testing.T) {
	t.Parallel()

	a := MustAddress("user@example.com", "Zoë")
	assert.Equal(t, "=?UTF-8?q?Zo=C3=AB?= <user@example.com>", a.Header())

	plain := MustAddress("user@example.com", "Zoe")
	assert.Equal(t, plain.String(), plain.Header())
}
