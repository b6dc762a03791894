package subscriber

import (
	"context"
	"fmt"

	"github.com/lattiq/multimailer/internal/core"
)

// Event names a membership change.
type Event string

const (
	EventSubscribed   Event = "subscribed"
	EventUnsubscribed Event = "unsubscribed"
)

// Notifier is told about each successful membership change.
type Notifier interface {
	Notify(ctx context.Context, ev Event, email string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event, email string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event, email string) error {
	return f(ctx, ev, email)
}

// Mailer is the part of a mailer used to send notifications. Both
// *mailer.Client and every mail driver satisfy it.
type Mailer interface {
	SetSender(a core.Address) bool
	AddRecipient(a core.Address) bool
	SetSubject(subject string)
	SetMessage(body string)
	Send(ctx context.Context) bool
	LastError() *core.Error
}

// MailerFactory returns a fresh mailer. A mailer holds a single message,
// so each notification needs its own.
type MailerFactory func(ctx context.Context) (Mailer, error)

// Template is the subject and plain text body of a notification.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates are used for events missing from MailNotifier.Templates.
var DefaultTemplates = map[Event]Template{
	EventSubscribed: {
		Subject: "Welcome! Your email has been subscribed.",
		Body:    "We have successfully subscribed this email to our mailing list.",
	},
	EventUnsubscribed: {
		Subject: "Goodbye! Your email was unsubscribed.",
		Body:    "We have successfully unsubscribed this email from our mailing list.",
	},
}

// MailNotifier emails the subscriber.
type MailNotifier struct {
	NewMailer MailerFactory

	// Sender is optional when the mailer is configured with one.
	Sender    core.Address
	Templates map[Event]Template
}

// Notify sends the template for ev to email.
func (n *MailNotifier) Notify(ctx context.Context, ev Event, email string) error {
	tpl, ok := n.Templates[ev]
	if !ok {
		tpl, ok = DefaultTemplates[ev]
	}
	if !ok {
		return core.NewValidationErrorWithValue("event", "no notification template", ev)
	}

	m, err := n.NewMailer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create notification mailer: %w", err)
	}
	if !n.Sender.IsZero() && !m.SetSender(n.Sender) {
		return lastError(m, "invalid notification sender")
	}
	if !m.AddRecipient(core.Address{Email: email}) {
		return lastError(m, "invalid notification recipient")
	}
	m.SetSubject(tpl.Subject)
	m.SetMessage(tpl.Body)
	if !m.Send(ctx) {
		return lastError(m, "notification was not sent")
	}
	return nil
}

func lastError(m Mailer, fallback string) error {
	if e := m.LastError(); e != nil {
		return e
	}
	return core.NewError("", core.KindTransport, 0, fallback)
}
