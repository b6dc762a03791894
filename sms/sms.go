// Package sms delivers short text messages through carrier email-to-SMS
// gateways.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/lattiq/multimailer/internal/core"
)

// Carrier is a mobile network with an email gateway.
type Carrier string

const (
	Alltel   Carrier = "alltel"
	ATT      Carrier = "att"
	Boost    Carrier = "boost"
	Cingular Carrier = "cingular"
	Nextel   Carrier = "nextel"
	Sprint   Carrier = "sprint"
	TMobile  Carrier = "tmobile"
	Verizon  Carrier = "verizon"
	Virgin   Carrier = "virgin"
)

var gateways = map[Carrier]string{
	Alltel:   "message.alltel.com",
	ATT:      "txt.att.net",
	Boost:    "myboostmobile.com",
	Cingular: "mobile.mycingular.com",
	Nextel:   "messaging.nextel.com",
	Sprint:   "messaging.sprintpcs.com",
	TMobile:  "tmomail.net",
	Verizon:  "vtext.com",
	Virgin:   "vmobl.com",
}

// Gateway returns the carrier's gateway domain.
func (c Carrier) Gateway() (string, bool) {
	g, ok := gateways[c]
	return g, ok
}

// Address returns the gateway address for number, which is reduced to its
// digits.
func (c Carrier) Address(number string) (core.Address, error) {
	gw, ok := c.Gateway()
	if !ok {
		return core.Address{}, core.NewValidationErrorWithValue("carrier", "unknown carrier", string(c))
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, number)
	if digits == "" {
		return core.Address{}, core.NewValidationErrorWithValue("number", "number has no digits", number)
	}
	return core.NewAddress(digits+"@"+gw, "")
}

// Mailer is the part of a mailer used to deliver one text.
type Mailer interface {
	SetSender(a core.Address) bool
	AddRecipient(a core.Address) bool
	SetSubject(subject string)
	SetContentType(contentType string)
	SetMessage(body string)
	Send(ctx context.Context) bool
	LastError() *core.Error
}

// MailerFactory returns a fresh mailer for each text.
type MailerFactory func(ctx context.Context) (Mailer, error)

// Option configures a Service.
type Option func(*Service)

// WithSender sets the From address to the gateway address of a phone.
func WithSender(number string, carrier Carrier) Option {
	return func(s *Service) {
		s.senderNumber, s.senderCarrier = number, carrier
	}
}

// WithSubject sets the subject of every text. Most gateways prepend it to
// the body.
func WithSubject(subject string) Option {
	return func(s *Service) { s.subject = subject }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service sends texts through mailers built on demand.
type Service struct {
	newMailer     MailerFactory
	senderNumber  string
	senderCarrier Carrier
	subject       string
	logger        *slog.Logger
}

// NewService returns a Service around f.
func NewService(f MailerFactory, opts ...Option) *Service {
	s := &Service{newMailer: f, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers message to number on carrier as plain text.
func (s *Service) Send(ctx context.Context, number string, carrier Carrier, message string) error {
	to, err := carrier.Address(number)
	if err != nil {
		return err
	}

	m, err := s.newMailer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create mailer: %w", err)
	}
	if s.senderCarrier != "" {
		from, err := s.senderCarrier.Address(s.senderNumber)
		if err != nil {
			return err
		}
		if !m.SetSender(from) {
			return lastError(m, "invalid sender")
		}
	}
	if !m.AddRecipient(to) {
		return lastError(m, "invalid recipient")
	}
	m.SetSubject(s.subject)
	m.SetContentType(core.ContentTypePlain)
	m.SetMessage(message)

	if !m.Send(ctx) {
		return lastError(m, "failed to send message to "+to.Email)
	}
	s.logger.InfoContext(ctx, "text sent", slog.String("carrier", string(carrier)), slog.String("to", to.Email))
	return nil
}

func lastError(m Mailer, fallback string) error {
	if e := m.LastError(); e != nil {
		return e
	}
	return core.NewError("", core.KindTransport, 0, fallback)
}
