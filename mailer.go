package mailer

import (
	"context"

	"github.com/lattiq/multimailer/internal/core"
)

// Type aliases to re-export core types for the public API.
type (
	Driver          = core.Driver
	DriverKind      = core.DriverKind
	DriverConfig    = core.DriverConfig
	AddressConfig   = core.AddressConfig
	DKIMConfig      = core.DKIMConfig
	TLSMode         = core.TLSMode
	Address         = core.Address
	AddressOption   = core.AddressOption
	Attachment      = core.Attachment
	EmbeddedImage   = core.EmbeddedImage
	DataSource      = core.DataSource
	SourceKind      = core.SourceKind
	Credentials     = core.Credentials
	Options         = core.Options
	Tracking        = core.Tracking
	Environment     = core.Environment
	Error           = core.Error
	ErrorKind       = core.ErrorKind
	ValidationError = core.ValidationError
)

// Driver kinds.
const (
	DriverSES        = core.DriverSES
	DriverSMTP       = core.DriverSMTP
	DriverPostmark   = core.DriverPostmark
	DriverMailChimp  = core.DriverMailChimp
	DriverWhatCounts = core.DriverWhatCounts
	DriverSendGrid   = core.DriverSendGrid
	DriverMailgun    = core.DriverMailgun
	DriverResend     = core.DriverResend
)

// SMTP TLS modes.
const (
	TLSNone     = core.TLSNone
	TLSStartTLS = core.TLSStartTLS
	TLSImplicit = core.TLSImplicit
)

// Data source kinds for LoadSource and Client.AttachFrom.
const (
	SourceData   = core.SourceData
	SourceFile   = core.SourceFile
	SourceString = core.SourceString
	SourceURL    = core.SourceURL
)

// Content types accepted by SetContentType.
const (
	ContentTypePlain = core.ContentTypePlain
	ContentTypeHTML  = core.ContentTypeHTML
	ContentTypeMixed = core.ContentTypeMixed
)

// Value constructors.
var (
	NewAddress       = core.NewAddress
	MustAddress      = core.MustAddress
	AllowLongTLD     = core.AllowLongTLD
	NewAttachment    = core.NewAttachment
	NewEmbeddedImage = core.NewEmbeddedImage
	NewCredentials   = core.NewCredentials
	FromFile         = core.FromFile
	FromString       = core.FromString
	FromURL          = core.FromURL
	FromAttachment   = core.FromAttachment
	LoadSource       = core.LoadSource
)

// Mailer is the message-building surface shared by Client and every Driver.
// Mutators that can fail return false and record an error readable through
// LastError. A Mailer holds exactly one message; Send may be called once.
type Mailer interface {
	SetOptions(opts Options)
	AddRecipient(a Address) bool
	AddCC(a Address) bool
	AddBCC(a Address) bool
	SetSender(a Address) bool
	SetReplyTo(a Address) bool
	SetSubject(subject string)
	SetContentType(contentType string)
	SetMessage(body string)
	SetAltMessage(body string)
	AddAttachment(a Attachment) bool
	SetEmbeddedImage(contentID, file, alias string) bool
	Send(ctx context.Context) bool
	RequestEmailVerification(ctx context.Context, a Address) bool
	LastError() *Error
	Log(enabled bool)
}

var (
	_ Mailer = (*Client)(nil)
	_ Mailer = Driver(nil)
)
