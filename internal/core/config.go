package core

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/language"
)

// DriverKind names a backend implementation.
type DriverKind string

const (
	DriverSES        DriverKind = "ses"
	DriverSMTP       DriverKind = "smtp"
	DriverPostmark   DriverKind = "postmark"
	DriverMailChimp  DriverKind = "mailchimp"
	DriverWhatCounts DriverKind = "whatcounts"
	DriverSendGrid   DriverKind = "sendgrid"
	DriverMailgun    DriverKind = "mailgun"
	DriverResend     DriverKind = "resend"
)

// DriverKinds lists every supported kind in a stable order.
var DriverKinds = []DriverKind{
	DriverSES,
	DriverSMTP,
	DriverPostmark,
	DriverMailChimp,
	DriverWhatCounts,
	DriverSendGrid,
	DriverMailgun,
	DriverResend,
}

// String returns the string representation of the driver kind.
func (k DriverKind) String() string {
	return string(k)
}

// Valid checks if the driver kind is supported.
func (k DriverKind) Valid() bool {
	switch k {
	case DriverSES, DriverSMTP, DriverPostmark, DriverMailChimp,
		DriverWhatCounts, DriverSendGrid, DriverMailgun, DriverResend:
		return true
	default:
		return false
	}
}

// TLSMode selects how SMTP connections are secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "implicit"
)

// AddressConfig is the configuration form of an Address.
type AddressConfig struct {
	Email string `yaml:"email" validate:"required"`
	Name  string `yaml:"name,omitempty"`
}

// Address validates the configured email.
func (a *AddressConfig) Address(opts ...AddressOption) (Address, error) {
	return NewAddress(a.Email, a.Name, opts...)
}

// DKIMConfig enables DKIM signing of raw messages.
type DKIMConfig struct {
	Domain         string `yaml:"domain" validate:"required,fqdn"`
	Selector       string `yaml:"selector" validate:"required"`
	PrivateKeyFile string `yaml:"private_key_file" validate:"required"`
}

// DriverConfig is the configuration block for one backend.
type DriverConfig struct {
	// Driver selects the backend implementation.
	Driver DriverKind `yaml:"driver" validate:"required"`

	Credentials *Credentials   `yaml:"credentials,omitempty"`
	Sender      *AddressConfig `yaml:"sender,omitempty"`
	ReplyTo     *AddressConfig `yaml:"reply_to,omitempty"`

	// URL overrides the backend API endpoint.
	URL    string `yaml:"url,omitempty" validate:"omitempty,url"`
	APIKey string `yaml:"api_key,omitempty"`
	Secret string `yaml:"secret,omitempty"`

	// Region is the AWS region for ses.
	Region string `yaml:"region,omitempty"`

	// Domain is the sending domain for mailgun.
	Domain string `yaml:"domain,omitempty"`

	// SMTP relay settings.
	Host               string  `yaml:"host,omitempty"`
	Port               int     `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	TLS                TLSMode `yaml:"tls,omitempty" validate:"omitempty,oneof=none starttls implicit"`
	InsecureSkipVerify bool    `yaml:"insecure_skip_verify,omitempty"`

	// MailingList names the list used by list-broadcast backends.
	MailingList string `yaml:"mailing_list,omitempty"`

	// ConfigurationSet is the SES configuration set.
	ConfigurationSet string `yaml:"configuration_set,omitempty"`

	// Timeout bounds each network call made by the driver.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"omitempty,min=0"`

	Options Options     `yaml:"options,omitempty"`
	DKIM    *DKIMConfig `yaml:"dkim,omitempty"`
}

// Require returns a configuration error naming field when value is empty.
func (c DriverConfig) Require(field, value string) error {
	if value == "" {
		return NewConfigurationError(string(c.Driver), field+" is required")
	}
	return nil
}

// Environment carries shared collaborators into driver constructors.
type Environment struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	UserAgent      string
	Locale         language.Tag
	Now            func() time.Time
	AddressOptions []AddressOption
}

// HTTP returns the shared client, or a new one bounded by timeout.
func (e Environment) HTTP(timeout time.Duration) *http.Client {
	if e.HTTPClient != nil && timeout == 0 {
		return e.HTTPClient
	}
	c := &http.Client{Timeout: timeout}
	if e.HTTPClient != nil {
		*c = *e.HTTPClient
		c.Timeout = timeout
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Clock returns the configured time source.
func (e Environment) Clock() func() time.Time {
	if e.Now == nil {
		return time.Now
	}
	return e.Now
}

// Log returns the configured logger or one that discards output.
func (e Environment) Log() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}
