// Package sendgrid sends messages through the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

const sendPath = "/v3/mail/send"

// Client is the subset of *sendgrid.Client used by the driver.
type Client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Driver builds one personalization holding every recipient.
type Driver struct {
	core.Base

	client    Client
	messageID string
}

// New requires api_key. url replaces the default API host.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}

	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.URL != "" {
		req := sendgrid.GetRequest(cfg.APIKey, sendPath, strings.TrimRight(cfg.URL, "/"))
		req.Method = rest.Post
		client = &sendgrid.Client{Request: req}
	}
	if env.UserAgent != "" {
		client.Headers["User-Agent"] = env.UserAgent
	}
	return NewWithClient(client, cfg, env)
}

// NewWithClient creates a driver around an existing client.
func NewWithClient(client Client, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	d := &Driver{
		Base:   core.NewBase(core.DriverSendGrid, env.Log()),
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
	if resp.StatusCode >= 400 {
		return d.Finish(ctx, d.Fail(core.KindTransport, resp.StatusCode, apiError(resp)))
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		d.messageID = ids[0]
	}
	return d.Finish(ctx, d.Succeed())
}

// MessageID returns the X-Message-Id of the last accepted message.
func (d *Driver) MessageID() string {
	return d.messageID
}

func (d *Driver) build() *mail.SGMailV3 {
	m := d.Message()

	msg := mail.NewV3Mail()
	msg.SetFrom(email(m.Sender))
	msg.Subject = m.EffectiveSubject()
	msg.SetReplyTo(email(m.EffectiveReplyTo()))

	p := mail.NewPersonalization()
	for _, a := range m.To {
		p.AddTos(email(a))
	}
	for _, a := range m.CC {
		p.AddCCs(email(a))
	}
	for _, a := range m.BCC {
		p.AddBCCs(email(a))
	}
	msg.AddPersonalizations(p)

	// text/plain must precede text/html.
	if m.IsHTML() {
		if text := rawmime.PlainText(m); text != "" {
			msg.AddContent(mail.NewContent(core.ContentTypePlain, text))
		}
		msg.AddContent(mail.NewContent(core.ContentTypeHTML, m.Body))
	} else {
		msg.AddContent(mail.NewContent(core.ContentTypePlain, m.Body))
	}

	for _, a := range m.Attachments {
		msg.AddAttachment(mail.NewAttachment().
			SetContent(a.Base64()).
			SetType(a.ContentType).
			SetFilename(a.Name).
			SetDisposition("attachment"))
	}
	for _, img := range m.Images {
		msg.AddAttachment(mail.NewAttachment().
			SetContent(img.Base64()).
			SetType(img.ContentType).
			SetFilename(img.Name).
			SetDisposition("inline").
			SetContentID(img.ContentID))
	}

	opts := d.Options()
	if len(opts.Tags) > 0 {
		msg.AddCategories(opts.Tags...)
	}
	if opts.Track != nil {
		track := opts.Tracking()
		msg.SetTrackingSettings(&mail.TrackingSettings{
			ClickTracking: mail.NewClickTrackingSetting().SetEnable(track.Clicks),
			OpenTracking:  mail.NewOpenTrackingSetting().SetEnable(track.Opens),
		})
	}
	return msg
}

func email(a core.Address) *mail.Email {
	return mail.NewEmail(a.Name, a.Email)
}

// apiError extracts the first message from a v3 error body.
func apiError(resp *rest.Response) string {
	var body struct {
		Errors []struct {
			Message string `json:"message"`
			Field   string `json:"field"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &body); err == nil && len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			if e.Field != "" {
				msgs = append(msgs, e.Field+": "+e.Message)
			} else {
				msgs = append(msgs, e.Message)
			}
		}
		return strings.Join(msgs, "; ")
	}
	if resp.Body != "" {
		return resp.Body
	}
	return http.StatusText(resp.StatusCode)
}

