// Package subscriber manages mailing list membership on list providers.
//
// A Subscriber follows the same convention as a mail driver: operations
// return false on failure and record an error readable with LastError.
package subscriber

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lattiq/multimailer/internal/core"
)

// Subscriber adds and removes one address on one mailing list.
type Subscriber interface {
	// Kind identifies the provider.
	Kind() core.DriverKind

	// SetMailingList names the list. It is resolved on the next operation.
	SetMailingList(name string)

	// SetSubscriber sets the address and profile fields to store with it.
	SetSubscriber(email string, attrs Attributes) bool

	// SetContentType selects the format the member prefers.
	SetContentType(contentType string)

	// SetNotifier sends a notification after each successful change. A nil
	// notifier disables notifications.
	SetNotifier(n Notifier)

	// Subscribe adds the subscriber. force skips double opt-in.
	Subscribe(ctx context.Context, force bool) bool

	// Unsubscribe removes the subscriber. del erases the member instead of
	// marking it unsubscribed.
	Unsubscribe(ctx context.Context, del bool) bool

	LastError() *core.Error
}

// Attributes are the optional profile fields of a subscriber.
type Attributes struct {
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
	FirstName    string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Address1     string `json:"address_1,omitempty" yaml:"address_1,omitempty"`
	Address2     string `json:"address_2,omitempty" yaml:"address_2,omitempty"`
	City         string `json:"city,omitempty" yaml:"city,omitempty"`
	State        string `json:"state,omitempty" yaml:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
	Country      string `json:"country,omitempty" yaml:"country,omitempty"`
	Phone        string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// HasAddress reports whether any postal address field is set.
func (a Attributes) HasAddress() bool {
	return a.Address1 != "" || a.Address2 != "" || a.City != "" ||
		a.State != "" || a.PostalCode != "" || a.Country != ""
}

type factory func(ctx context.Context, cfg core.DriverConfig, env core.Environment) (Subscriber, error)

var registry = map[core.DriverKind]factory{
	core.DriverMailChimp:  adapt(NewMailChimp),
	core.DriverWhatCounts: adapt(NewWhatCounts),
}

func adapt[S Subscriber](fn func(context.Context, core.DriverConfig, core.Environment) (S, error)) factory {
	return func(ctx context.Context, cfg core.DriverConfig, env core.Environment) (Subscriber, error) {
		s, err := fn(ctx, cfg, env)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// New builds the subscriber for cfg.Driver. Only list providers are
// supported.
func New(ctx context.Context, cfg core.DriverConfig, env core.Environment) (Subscriber, error) {
	f, ok := registry[cfg.Driver]
	if !ok {
		return nil, core.NewConfigurationError(string(cfg.Driver), "no subscriber for driver "+string(cfg.Driver))
	}
	return f(ctx, cfg, env)
}

// state is the bookkeeping shared by the providers.
type state struct {
	kind        core.DriverKind
	list        string
	email       string
	attrs       Attributes
	contentType string
	notifier    Notifier
	err         *core.Error
	logger      *slog.Logger
}

func newState(kind core.DriverKind, cfg core.DriverConfig, env core.Environment) state {
	return state{
		kind:        kind,
		list:        cfg.MailingList,
		contentType: core.ContentTypePlain,
		logger:      env.Log().With(slog.String("subscriber", string(kind))),
	}
}

func (s *state) Kind() core.DriverKind { return s.kind }

func (s *state) SetMailingList(name string) { s.list = strings.TrimSpace(name) }

func (s *state) SetSubscriber(email string, attrs Attributes) bool {
	a, err := core.NewAddress(email, "", core.AllowLongTLD())
	if err != nil {
		s.err = core.AsError(string(s.kind), core.KindValidation, err)
		return false
	}
	s.email = a.Email
	s.attrs = attrs
	return true
}

func (s *state) SetContentType(contentType string) {
	s.contentType = core.NormalizeContentType(contentType)
}

func (s *state) SetNotifier(n Notifier) { s.notifier = n }

func (s *state) LastError() *core.Error { return s.err }

// ready checks that an operation named op has a list and a subscriber.
func (s *state) ready(op string) bool {
	if s.list == "" {
		return s.fail(core.KindConfiguration, 0, "failed to "+op+" because no mailing list has been set")
	}
	if s.email == "" {
		return s.fail(core.KindValidation, 0, "failed to "+op+" because no subscriber has been set")
	}
	return true
}

func (s *state) fail(kind core.ErrorKind, code int, msg string) bool {
	s.err = core.NewError(string(s.kind), kind, code, msg)
	return false
}

func (s *state) failWith(kind core.ErrorKind, err error) bool {
	s.err = core.AsError(string(s.kind), kind, err)
	return false
}

// done notifies on success and clears the error slot.
func (s *state) done(ctx context.Context, ev Event) bool {
	s.logger.InfoContext(ctx, "membership changed",
		slog.String("event", string(ev)), slog.String("list", s.list), slog.String("email", s.email))
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, ev, s.email); err != nil {
			return s.failWith(core.KindTransport, err)
		}
	}
	s.err = nil
	return true
}
