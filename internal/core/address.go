package core

import (
	"mime"
	"regexp"
	"strings"
)

var (
	strictAddressPattern  = regexp.MustCompile(`(?i)^[_a-z0-9-]+(\.[_a-z0-9-]+)*@[a-z0-9-]+(\.[a-z0-9-]+)*(\.[a-z]{2,3})$`)
	longTLDAddressPattern = regexp.MustCompile(`(?i)^[_a-z0-9-]+(\.[_a-z0-9-]+)*@[a-z0-9-]+(\.[a-z0-9-]+)*(\.[a-z]{2,63})$`)

	// lineBreaks removes every Unicode line terminator: CRLF, LF, VT, FF,
	// CR, NEL, LS and PS.
	lineBreaks = strings.NewReplacer(
		"\r\n", "",
		"\n", "",
		"\v", "",
		"\f", "",
		"\r", "",
		"\u0085", "",
		"\u2028", "",
		"\u2029", "",
	)
)

// Address is a validated email address with an optional display name.
// The zero value is not a valid address; use NewAddress.
type Address struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
}

type addressOptions struct {
	longTLD bool
}

// AddressOption tunes address validation.
type AddressOption func(*addressOptions)

// AllowLongTLD accepts top-level domains longer than three characters
// (.info, .email, .museum). Without it only two or three letter TLDs pass.
func AllowLongTLD() AddressOption {
	return func(o *addressOptions) {
		o.longTLD = true
	}
}

// NewAddress validates email and returns an Address. The email is trimmed;
// the display name has line terminators removed and is trimmed.
func NewAddress(email, name string, opts ...AddressOption) (Address, error) {
	var o addressOptions
	for _, opt := range opts {
		opt(&o)
	}

	email = strings.TrimSpace(email)
	name = strings.TrimSpace(lineBreaks.Replace(name))

	pattern := strictAddressPattern
	if o.longTLD {
		pattern = longTLDAddressPattern
	}
	if !pattern.MatchString(email) {
		return Address{}, NewValidationErrorWithValue("email", "invalid email address", email)
	}

	return Address{Email: email, Name: name}, nil
}

// MustAddress is like NewAddress but panics on invalid input. Intended for
// constants in tests and examples.
func MustAddress(email, name string, opts ...AddressOption) Address {
	a, err := NewAddress(email, name, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Email == ""
}

// String returns `"Name" <email>` when a display name is present,
// otherwise the bare email.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return `"` + quoteName(a.Name) + `" <` + a.Email + `>`
}

// Header returns the address formatted for a MIME header. Non-ASCII display
// names are RFC 2047 encoded.
func (a Address) Header() string {
	if a.Name == "" || IsASCII(a.Name) {
		return a.String()
	}
	return mime.QEncoding.Encode("UTF-8", a.Name) + " <" + a.Email + ">"
}

func quoteName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '\\' || r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsASCII reports whether s contains only 7-bit characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
