package core

import (
	"context"
)

// Driver is the capability contract every backend satisfies.
//
// Mutators that can fail return false and record an *Error retrievable with
// LastError; none of them panic or return Go errors. A backend lacking a
// capability accepts the call, returns false, and records a KindUnsupported
// error.
type Driver interface {
	// Kind identifies the backend.
	Kind() DriverKind

	SetOptions(opts Options)
	AddRecipient(a Address) bool
	AddCC(a Address) bool
	AddBCC(a Address) bool
	SetSender(a Address) bool
	SetReplyTo(a Address) bool

	// SetSubject stores the subject with line terminators removed. Blank
	// input becomes DefaultSubject.
	SetSubject(subject string)
	SetContentType(contentType string)
	SetMessage(body string)
	SetAltMessage(body string)
	AddAttachment(a Attachment) bool
	SetEmbeddedImage(contentID, file, alias string) bool

	// Send transmits the accumulated message once. It returns true only when
	// the backend accepted it.
	Send(ctx context.Context) bool

	// RequestEmailVerification asks the backend to verify a sender identity.
	RequestEmailVerification(ctx context.Context, a Address) bool

	LastError() *Error
	Log(enabled bool)
}
