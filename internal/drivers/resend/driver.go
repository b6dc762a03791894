// Package resend sends messages through the Resend API.
package resend

import (
	"context"
	"net/url"
	"regexp"

	"github.com/resend/resend-go/v3"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

// Client is the subset of resend.EmailsSvc used by the driver.
type Client interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

var tagName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Driver sends one request carrying every recipient. Option tags become
// presence tags with the value "true".
type Driver struct {
	core.Base

	client    Client
	messageID string
}

// New requires api_key.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}

	client := resend.NewCustomClient(env.HTTP(cfg.Timeout), cfg.APIKey)
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, core.NewConfigurationError(string(core.DriverResend), "invalid url: "+err.Error())
		}
		client.BaseURL = u
	}
	if env.UserAgent != "" {
		client.UserAgent = env.UserAgent
	}
	return NewWithClient(client.Emails, cfg, env)
}

// NewWithClient creates a driver around an existing emails service.
func NewWithClient(client Client, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	d := &Driver{
		Base:   core.NewBase(core.DriverResend, env.Log()),
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

	resp, err := d.client.SendWithContext(ctx, d.build())
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindTransport, err))
	}
	if resp != nil {
		d.messageID = resp.Id
	}
	return d.Finish(ctx, d.Succeed())
}

// MessageID returns the Resend id of the last accepted message.
func (d *Driver) MessageID() string {
	return d.messageID
}

func (d *Driver) build() *resend.SendEmailRequest {
	m := d.Message()

	req := &resend.SendEmailRequest{
		From:    m.Sender.String(),
		To:      core.Formatted(m.To),
		Cc:      core.Formatted(m.CC),
		Bcc:     core.Formatted(m.BCC),
		Subject: m.EffectiveSubject(),
		ReplyTo: m.EffectiveReplyTo().String(),
	}
	if m.IsHTML() {
		req.Html = m.Body
		req.Text = rawmime.PlainText(m)
	} else {
		req.Text = m.Body
	}

	for _, a := range m.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Name,
			Content:     a.Contents(),
			ContentType: a.ContentType,
		})
	}
	for _, img := range m.Images {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    img.Name,
			Content:     img.Contents(),
			ContentType: img.ContentType,
			ContentId:   img.ContentID,
		})
	}

	for _, t := range d.Options().Tags {
		req.Tags = append(req.Tags, resend.Tag{Name: tagName.ReplaceAllString(t, "_"), Value: "true"})
	}
	return req
}
