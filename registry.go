package mailer

import (
	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/drivers"
)

// Capabilities reports which optional operations a driver kind supports.
type Capabilities = drivers.Capabilities

// DriverKinds returns every supported driver kind in a stable order.
func DriverKinds() []DriverKind {
	return append([]DriverKind(nil), core.DriverKinds...)
}

// Describe returns the capabilities of kind.
func Describe(kind DriverKind) (Capabilities, bool) {
	return drivers.Describe(kind)
}
