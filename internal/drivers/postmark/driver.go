// Package postmark sends messages through the Postmark JSON API.
package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

const (
	defaultURL = "https://api.postmarkapp.com"

	// maxRecipients is Postmark's limit across To, Cc and Bcc.
	maxRecipients = 20
)

type attachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type request struct {
	From        string       `json:"From"`
	To          string       `json:"To"`
	Cc          string       `json:"Cc,omitempty"`
	Bcc         string       `json:"Bcc,omitempty"`
	Subject     string       `json:"Subject"`
	Tag         string       `json:"Tag,omitempty"`
	HTMLBody    string       `json:"HtmlBody,omitempty"`
	TextBody    string       `json:"TextBody,omitempty"`
	ReplyTo     string       `json:"ReplyTo,omitempty"`
	TrackOpens  bool         `json:"TrackOpens,omitempty"`
	TrackLinks  string       `json:"TrackLinks,omitempty"`
	Attachments []attachment `json:"Attachments,omitempty"`
}

type response struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// Driver maps the message onto Postmark's /email endpoint. The first
// recipient becomes To; the rest are sent as Cc.
type Driver struct {
	core.Base

	endpoint  string
	token     string
	userAgent string
	client    *http.Client
	messageID string
}

// New returns a driver authenticated with the server token in api_key.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	base := cfg.URL
	if base == "" {
		base = defaultURL
	}

	d := &Driver{
		Base:      core.NewBase(core.DriverPostmark, env.Log()),
		endpoint:  strings.TrimRight(base, "/") + "/email",
		token:     cfg.APIKey,
		userAgent: env.UserAgent,
		client:    env.HTTP(cfg.Timeout),
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	return d, nil
}

// SetEmbeddedImage is not supported.
func (d *Driver) SetEmbeddedImage(string, string, string) bool {
	return d.Unsupported("embedded images")
}

// Send posts the message.
func (d *Driver) Send(ctx context.Context) bool {
	if !d.BeginSend(ctx) {
		return d.Finish(ctx, false)
	}
	m := d.Message()

	if n := len(m.Recipients()); n > maxRecipients {
		return d.Finish(ctx, d.Failf(core.KindValidation, 0, "postmark accepts at most %d recipients, got %d", maxRecipients, n))
	}

	body, err := json.Marshal(d.buildRequest(m))
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindComposition, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindConfiguration, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", d.token)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindTransport, err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out response
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %s", resp.Status)
		}
		return d.Finish(ctx, d.Fail(core.KindTransport, code, msg))
	}

	d.messageID = out.MessageID
	return d.Finish(ctx, d.Succeed())
}

// MessageID returns the Postmark id of the last accepted message.
func (d *Driver) MessageID() string {
	return d.messageID
}

func (d *Driver) buildRequest(m *core.Message) request {
	to := core.Formatted(m.To)
	cc := append(to[1:len(to):len(to)], core.Formatted(m.CC)...)

	r := request{
		From:    m.Sender.String(),
		To:      to[0],
		Cc:      strings.Join(cc, ", "),
		Bcc:     strings.Join(core.Formatted(m.BCC), ", "),
		Subject: m.EffectiveSubject(),
		ReplyTo: m.EffectiveReplyTo().String(),
	}

	switch m.EffectiveContentType() {
	case core.ContentTypeHTML:
		r.HTMLBody = m.Body
		if m.AltBody != "" {
			r.TextBody = m.AltBody
		}
	case core.ContentTypeMixed:
		r.HTMLBody = m.Body
		r.TextBody = rawmime.PlainText(m)
	default:
		r.TextBody = m.Body
	}

	opts := d.Options()
	if len(opts.Tags) > 0 {
		r.Tag = opts.Tags[0]
	}
	track := opts.Tracking()
	r.TrackOpens = track.Opens
	if track.Clicks {
		r.TrackLinks = "HtmlAndText"
	}

	for _, a := range m.Attachments {
		r.Attachments = append(r.Attachments, attachment{
			Name:        a.Name,
			Content:     a.Base64(),
			ContentType: a.ContentType,
		})
	}
	return r
}
