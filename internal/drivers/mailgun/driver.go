// Package mailgun sends messages through the Mailgun HTTP API.
package mailgun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

// Sender is the subset of mailgun.Mailgun used by the driver.
type Sender interface {
	Send(ctx context.Context, m *mailgun.Message) (mes string, id string, err error)
}

// Driver maps the message onto a mailgun.Message. Inline images are
// referenced by file name on the Mailgun side, so cid: references in the
// body are rewritten to match.
type Driver struct {
	core.Base

	client    Sender
	messageID string
}

// New requires api_key and domain. url selects another API base, such as
// the EU region.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	if err := cfg.Require("domain", cfg.Domain); err != nil {
		return nil, err
	}

	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.URL != "" {
		mg.SetAPIBase(cfg.URL)
	}
	mg.SetClient(env.HTTP(cfg.Timeout))

	return NewWithClient(mg, cfg, env)
}

// NewWithClient creates a driver around an existing client.
func NewWithClient(client Sender, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	d := &Driver{
		Base:   core.NewBase(core.DriverMailgun, env.Log()),
		client: client,
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	return d, nil
}

// Send submits the message.
func (d *Driver) Send(ctx context.Context) bool {
	if !d.BeginSend(ctx) {
		return d.Finish(ctx, false)
	}

	msg, err := d.build()
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindComposition, err))
	}

	_, id, err := d.client.Send(ctx, msg)
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindTransport, transportError(err)))
	}
	d.messageID = id
	return d.Finish(ctx, d.Succeed())
}

// MessageID returns the Mailgun id of the last accepted message.
func (d *Driver) MessageID() string {
	return d.messageID
}

func (d *Driver) build() (*mailgun.Message, error) {
	m := d.Message()

	body := m.Body
	text := body
	if m.IsHTML() {
		text = rawmime.PlainText(m)
		for _, img := range m.Images {
			if img.ContentID != img.Name {
				body = strings.ReplaceAll(body, "cid:"+img.ContentID, "cid:"+img.Name)
			}
		}
	}

	msg := mailgun.NewMessage(m.Sender.String(), m.EffectiveSubject(), text)
	for _, a := range m.To {
		if err := msg.AddRecipient(a.String()); err != nil {
			return nil, err
		}
	}
	for _, a := range m.CC {
		msg.AddCC(a.String())
	}
	for _, a := range m.BCC {
		msg.AddBCC(a.String())
	}
	msg.SetReplyTo(m.EffectiveReplyTo().String())
	if m.IsHTML() {
		msg.SetHTML(body)
	}

	for _, a := range m.Attachments {
		msg.AddBufferAttachment(a.Name, a.Contents())
	}
	for _, img := range m.Images {
		msg.AddReaderInline(img.Name, io.NopCloser(bytes.NewReader(img.Contents())))
	}

	opts := d.Options()
	if len(opts.Tags) > 0 {
		if err := msg.AddTag(opts.Tags...); err != nil {
			return nil, err
		}
	}
	if opts.Track != nil {
		track := opts.Tracking()
		msg.SetTrackingOpens(track.Opens)
		msg.SetTrackingClicks(track.Clicks)
	}
	return msg, nil
}

func transportError(err error) error {
	var ure *mailgun.UnexpectedResponseError
	if errors.As(err, &ure) {
		return core.WrapError(string(core.DriverMailgun), core.KindTransport, ure.Actual, err.Error(), err)
	}
	return err
}
