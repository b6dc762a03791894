// Package drivers maps driver kinds to their constructors.
package drivers

import (
	"context"
	"fmt"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/drivers/mailchimp"
	"github.com/lattiq/multimailer/internal/drivers/mailgun"
	"github.com/lattiq/multimailer/internal/drivers/postmark"
	"github.com/lattiq/multimailer/internal/drivers/resend"
	"github.com/lattiq/multimailer/internal/drivers/sendgrid"
	"github.com/lattiq/multimailer/internal/drivers/ses"
	"github.com/lattiq/multimailer/internal/drivers/smtp"
	"github.com/lattiq/multimailer/internal/drivers/whatcounts"
)

// Factory builds a driver from its configuration block.
type Factory func(ctx context.Context, cfg core.DriverConfig, env core.Environment) (core.Driver, error)

// Capabilities describes what a driver accepts beyond the common mutators.
type Capabilities struct {
	Attachments    bool
	EmbeddedImages bool
	ReplyTo        bool
	Verification   bool
}

type entry struct {
	factory Factory
	caps    Capabilities
}

func adapt[D core.Driver](fn func(context.Context, core.DriverConfig, core.Environment) (D, error)) Factory {
	return func(ctx context.Context, cfg core.DriverConfig, env core.Environment) (core.Driver, error) {
		d, err := fn(ctx, cfg, env)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

var registry = map[core.DriverKind]entry{
	core.DriverSES:        {adapt(ses.New), Capabilities{ReplyTo: true, Verification: true}},
	core.DriverSMTP:       {adapt(smtp.New), Capabilities{Attachments: true, EmbeddedImages: true, ReplyTo: true}},
	core.DriverPostmark:   {adapt(postmark.New), Capabilities{Attachments: true, ReplyTo: true}},
	core.DriverMailChimp:  {adapt(mailchimp.New), Capabilities{}},
	core.DriverWhatCounts: {adapt(whatcounts.New), Capabilities{ReplyTo: true}},
	core.DriverSendGrid:   {adapt(sendgrid.New), Capabilities{Attachments: true, EmbeddedImages: true, ReplyTo: true}},
	core.DriverMailgun:    {adapt(mailgun.New), Capabilities{Attachments: true, EmbeddedImages: true, ReplyTo: true}},
	core.DriverResend:     {adapt(resend.New), Capabilities{Attachments: true, EmbeddedImages: true, ReplyTo: true}},
}

// New builds the driver named by cfg.Driver.
func New(ctx context.Context, cfg core.DriverConfig, env core.Environment) (core.Driver, error) {
	e, ok := registry[cfg.Driver]
	if !ok {
		return nil, core.NewConfigurationError(string(cfg.Driver), fmt.Sprintf("unknown driver %q", cfg.Driver))
	}
	return e.factory(ctx, cfg, env)
}

// Describe returns the capabilities of kind.
func Describe(kind core.DriverKind) (Capabilities, bool) {
	e, ok := registry[kind]
	return e.caps, ok
}
