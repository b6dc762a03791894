package mailer

import (
	"github.com/lattiq/multimailer/internal/core"
)

// Error kinds.
const (
	KindConfiguration = core.KindConfiguration
	KindValidation    = core.KindValidation
	KindUnsupported   = core.KindUnsupported
	KindTransport     = core.KindTransport
	KindComposition   = core.KindComposition
)

// Sentinel errors for errors.Is comparisons by kind.
var (
	// ErrConfiguration matches missing or invalid driver configuration and
	// unknown driver kinds.
	ErrConfiguration = core.ErrConfiguration

	// ErrValidation matches malformed addresses and invalid field values.
	ErrValidation = core.ErrValidation

	// ErrUnsupported matches capabilities a driver does not offer.
	ErrUnsupported = core.ErrUnsupported

	// ErrTransport matches network, HTTP and SMTP failures.
	ErrTransport = core.ErrTransport

	// ErrComposition matches messages that cannot be built or were already
	// sent.
	ErrComposition = core.ErrComposition
)

// Error constructor functions
var (
	NewError                    = core.NewError
	WrapError                   = core.WrapError
	NewConfigurationError       = core.NewConfigurationError
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
)

const clientName = "client"

func errAlreadySent() *Error {
	return core.NewError(clientName, core.KindComposition, 0, "message already sent")
}

func errNoDrivers() *Error {
	return core.NewConfigurationError(clientName, "at least one driver is required")
}
