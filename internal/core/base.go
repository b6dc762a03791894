package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Base holds the message state and error slot shared by all drivers. Drivers
// embed it and override the capabilities they lack.
type Base struct {
	kind    DriverKind
	msg     Message
	opts    Options
	err     *Error
	logging bool
	sent    bool
	logger  *slog.Logger
}

// NewBase returns a Base for the given driver kind.
func NewBase(kind DriverKind, logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Base{
		kind:   kind,
		logger: logger.With(slog.String("driver", string(kind))),
	}
}

// Configure applies the sender, reply-to and options from cfg.
func (b *Base) Configure(cfg DriverConfig, env Environment) error {
	if cfg.Sender != nil {
		a, err := cfg.Sender.Address(env.AddressOptions...)
		if err != nil {
			return WrapError(string(b.kind), KindConfiguration, 0, "invalid sender: "+err.Error(), err)
		}
		b.msg.Sender = a
	}
	if cfg.ReplyTo != nil {
		a, err := cfg.ReplyTo.Address(env.AddressOptions...)
		if err != nil {
			return WrapError(string(b.kind), KindConfiguration, 0, "invalid reply_to: "+err.Error(), err)
		}
		b.msg.ReplyTo = a
	}
	b.opts = b.opts.Merge(cfg.Options)
	return nil
}

// Kind identifies the backend.
func (b *Base) Kind() DriverKind { return b.kind }

// Message exposes the accumulated state to the embedding driver.
func (b *Base) Message() *Message { return &b.msg }

// Options returns the merged provider options.
func (b *Base) Options() Options { return b.opts }

// Logger returns the driver logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// SetOptions merges opts into the current options.
func (b *Base) SetOptions(opts Options) {
	b.opts = b.opts.Merge(opts)
}

// AddRecipient appends a To address.
func (b *Base) AddRecipient(a Address) bool {
	a, ok := b.checkAddress("recipient", a)
	if ok {
		b.msg.To = append(b.msg.To, a)
	}
	return ok
}

// AddCC appends a Cc address.
func (b *Base) AddCC(a Address) bool {
	a, ok := b.checkAddress("cc", a)
	if ok {
		b.msg.CC = append(b.msg.CC, a)
	}
	return ok
}

// AddBCC appends a Bcc address.
func (b *Base) AddBCC(a Address) bool {
	a, ok := b.checkAddress("bcc", a)
	if ok {
		b.msg.BCC = append(b.msg.BCC, a)
	}
	return ok
}

// SetSender sets the From address.
func (b *Base) SetSender(a Address) bool {
	a, ok := b.checkAddress("sender", a)
	if ok {
		b.msg.Sender = a
	}
	return ok
}

// SetReplyTo sets the Reply-To address.
func (b *Base) SetReplyTo(a Address) bool {
	a, ok := b.checkAddress("reply_to", a)
	if ok {
		b.msg.ReplyTo = a
	}
	return ok
}

// SetSubject stores a normalized subject.
func (b *Base) SetSubject(subject string) {
	b.msg.Subject = NormalizeSubject(subject)
}

// SetContentType stores the media type without parameters.
func (b *Base) SetContentType(contentType string) {
	b.msg.ContentType = NormalizeContentType(contentType)
}

// SetMessage sets the body.
func (b *Base) SetMessage(body string) {
	b.msg.Body = body
}

// SetAltMessage sets the plain text alternative of an HTML body.
func (b *Base) SetAltMessage(body string) {
	b.msg.AltBody = body
}

// AddAttachment appends an attachment.
func (b *Base) AddAttachment(a Attachment) bool {
	if a.Name == "" {
		return b.Fail(KindValidation, 0, "attachment has no name")
	}
	b.msg.Attachments = append(b.msg.Attachments, a)
	return true
}

// SetEmbeddedImage loads file as an inline image referenced by contentID.
func (b *Base) SetEmbeddedImage(contentID, file, alias string) bool {
	img, err := NewEmbeddedImage(contentID, file, alias)
	if err != nil {
		return b.FailWith(KindValidation, err)
	}
	b.msg.Images = append(b.msg.Images, img)
	return true
}

// RequestEmailVerification is unsupported unless a driver overrides it.
func (b *Base) RequestEmailVerification(context.Context, Address) bool {
	return b.Unsupported("email verification")
}

// LastError returns the most recently recorded error.
func (b *Base) LastError() *Error { return b.err }

// Log toggles per-send logging.
func (b *Base) Log(enabled bool) { b.logging = enabled }

// Fail records an error and returns false.
func (b *Base) Fail(kind ErrorKind, code int, message string) bool {
	b.err = NewError(string(b.kind), kind, code, message)
	return false
}

// Failf records a formatted error and returns false.
func (b *Base) Failf(kind ErrorKind, code int, format string, args ...any) bool {
	return b.Fail(kind, code, fmt.Sprintf(format, args...))
}

// FailWith records err, classified as kind unless it already carries one,
// and returns false.
func (b *Base) FailWith(kind ErrorKind, err error) bool {
	b.err = AsError(string(b.kind), kind, err)
	return false
}

// Unsupported records a KindUnsupported error for capability.
func (b *Base) Unsupported(capability string) bool {
	return b.Failf(KindUnsupported, 0, "%s driver does not support %s", b.kind, capability)
}

// Succeed clears the error slot and returns true.
func (b *Base) Succeed() bool {
	b.err = nil
	return true
}

// BeginSend marks the message as sent and validates it. Drivers call it at
// the top of Send and return false when it does.
func (b *Base) BeginSend(ctx context.Context) bool {
	if b.sent {
		return b.Fail(KindComposition, 0, "message already sent")
	}
	b.sent = true
	if err := b.msg.Validate(); err != nil {
		return b.FailWith(KindComposition, err)
	}
	if b.logging {
		b.logger.InfoContext(ctx, "sending message",
			slog.String("from", b.msg.Sender.Email),
			slog.String("to", strings.Join(Addresses(b.msg.To), ",")),
			slog.Int("cc", len(b.msg.CC)),
			slog.Int("bcc", len(b.msg.BCC)),
			slog.String("subject", b.msg.EffectiveSubject()),
		)
	}
	return true
}

// Finish logs the outcome of a send when logging is enabled.
func (b *Base) Finish(ctx context.Context, ok bool) bool {
	if !b.logging {
		return ok
	}
	if ok {
		b.logger.InfoContext(ctx, "message accepted")
	} else if b.err != nil {
		b.logger.WarnContext(ctx, "message rejected",
			slog.String("kind", string(b.err.Kind)),
			slog.Int("code", b.err.Code),
			slog.String("error", b.err.Message),
		)
	}
	return ok
}

func (b *Base) checkAddress(field string, a Address) (Address, bool) {
	a.Email = strings.TrimSpace(a.Email)
	a.Name = strings.TrimSpace(lineBreaks.Replace(a.Name))
	if !longTLDAddressPattern.MatchString(a.Email) {
		b.err = AsError(string(b.kind), KindValidation,
			NewValidationErrorWithValue(field, "invalid email address", a.Email))
		return a, false
	}
	return a, true
}
