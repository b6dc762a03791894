// Package mailchimp sends transactional mail through the MailChimp STS
// SendEmail endpoint, one request per recipient.
package mailchimp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

const (
	defaultURL = "https://us1.sts.mailchimp.com/1.0/SendEmail"
	mask       = "XXXXXXXXXXXXXXXXXXXXXXXXXX"
)

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	AWSCode string `json:"aws_code"`
}

// Driver posts form-encoded requests. Reply-to, attachments and embedded
// images are not supported; Cc and Bcc recipients get their own copy.
type Driver struct {
	core.Base

	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

// New requires api_key. The endpoint defaults to the us1 data center.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.ReplyTo != nil {
		return nil, core.NewConfigurationError(string(core.DriverMailChimp), "reply_to is not supported")
	}
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = defaultURL
	}

	d := &Driver{
		Base:      core.NewBase(core.DriverMailChimp, env.Log()),
		endpoint:  endpoint,
		apiKey:    cfg.APIKey,
		userAgent: env.UserAgent,
		client:    env.HTTP(cfg.Timeout),
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	return d, nil
}

// SetReplyTo is not supported.
func (d *Driver) SetReplyTo(core.Address) bool {
	return d.Unsupported("reply-to")
}

// AddAttachment is not supported.
func (d *Driver) AddAttachment(core.Attachment) bool {
	return d.Unsupported("attachments")
}

// SetEmbeddedImage is not supported.
func (d *Driver) SetEmbeddedImage(string, string, string) bool {
	return d.Unsupported("embedded images")
}

// Send posts one request per recipient and stops at the first failure.
// Recipients accepted before the failure have already been sent the
// message. When a Client fails over to the next driver they receive it
// again.
func (d *Driver) Send(ctx context.Context) bool {
	if !d.BeginSend(ctx) {
		return d.Finish(ctx, false)
	}
	m := d.Message()

	form := url.Values{
		"apikey":              {d.apiKey},
		"message[subject]":    {m.EffectiveSubject()},
		"message[from_email]": {m.Sender.Email},
		"message[from_name]":  {m.Sender.Name},
	}
	if m.IsHTML() {
		form.Set("message[html]", m.Body)
		if m.EffectiveContentType() == core.ContentTypeMixed || m.AltBody != "" {
			form.Set("message[text]", rawmime.PlainText(m))
		}
	} else {
		form.Set("message[text]", m.Body)
	}

	opts := d.Options()
	track := opts.Tracking()
	form.Set("track_opens", strconv.FormatBool(track.Opens))
	form.Set("track_clicks", strconv.FormatBool(track.Clicks))
	for i, tag := range opts.Tags {
		form.Set(fmt.Sprintf("tags[%d]", i), tag)
	}

	for _, rcpt := range m.Recipients() {
		form.Set("message[to_email][0]", rcpt.Email)
		form.Set("message[to_name][0]", rcpt.Name)
		if err := d.post(ctx, form); err != nil {
			return d.Finish(ctx, d.FailWith(core.KindTransport, err))
		}
	}
	return d.Finish(ctx, d.Succeed())
}

func (d *Driver) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return core.WrapError(string(core.DriverMailChimp), core.KindConfiguration, 0, d.redact(err.Error()), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return core.NewError(string(core.DriverMailChimp), core.KindTransport, 0, "failed to send email: "+d.redact(err.Error()))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out response
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.NewError(string(core.DriverMailChimp), core.KindTransport, resp.StatusCode,
			fmt.Sprintf("mail service returned HTTP status code %d: %s", resp.StatusCode, d.redact(out.Message)))
	}
	if out.Status != "sent" && out.Status != "queued" {
		return core.NewError(string(core.DriverMailChimp), core.KindTransport, resp.StatusCode,
			fmt.Sprintf("mail service returned status %q (aws code %s): %s", out.Status, out.AWSCode, d.redact(out.Message)))
	}
	return nil
}

func (d *Driver) redact(s string) string {
	return strings.ReplaceAll(s, d.apiKey, mask)
}
