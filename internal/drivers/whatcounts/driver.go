// Package whatcounts sends list broadcasts through WhatCounts, one request
// per recipient.
package whatcounts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
	wcapi "github.com/lattiq/multimailer/internal/whatcounts"
)

// Driver sends to members of a named mailing list. The list id is looked up
// on the first send and cached.
type Driver struct {
	core.Base

	client   *wcapi.Client
	listName string
	listID   string
}

// New requires credentials and mailing_list.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if cfg.Credentials == nil {
		return nil, core.NewConfigurationError(string(core.DriverWhatCounts), "credentials are required")
	}
	if err := cfg.Require("mailing_list", cfg.MailingList); err != nil {
		return nil, err
	}
	client := wcapi.NewClient(cfg.URL, cfg.Credentials.Username, cfg.Credentials.Password,
		env.HTTP(cfg.Timeout), env.UserAgent)
	return NewWithClient(client, cfg, env)
}

// NewWithClient creates a driver around an existing API client.
func NewWithClient(client *wcapi.Client, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	d := &Driver{
		Base:     core.NewBase(core.DriverWhatCounts, env.Log()),
		client:   client,
		listName: cfg.MailingList,
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	return d, nil
}

// AddAttachment is not supported.
func (d *Driver) AddAttachment(core.Attachment) bool {
	return d.Unsupported("attachments")
}

// SetEmbeddedImage is not supported.
func (d *Driver) SetEmbeddedImage(string, string, string) bool {
	return d.Unsupported("embedded images")
}

// Send issues cmd=send for every recipient and stops at the first failure.
// Recipients accepted before the failure have already been sent the
// message. When a Client fails over to the next driver they receive it
// again.
func (d *Driver) Send(ctx context.Context) bool {
	if !d.BeginSend(ctx) {
		return d.Finish(ctx, false)
	}

	listID, err := d.resolveList(ctx)
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindConfiguration, err))
	}

	m := d.Message()
	replyTo := m.EffectiveReplyTo().String()
	req := wcapi.SendRequest{
		ListID:   listID,
		Format:   wcapi.FormatFor(m.EffectiveContentType()),
		ErrorsTo: replyTo,
		ReplyTo:  replyTo,
		From:     m.Sender.String(),
		Subject:  m.EffectiveSubject(),
	}
	switch req.Format {
	case wcapi.FormatMultipart:
		req.HTMLBody = m.Body
		req.PlainTextBody = rawmime.PlainText(m)
	case wcapi.FormatHTML:
		req.HTMLBody = m.Body
	default:
		req.Body = m.Body
	}

	for _, email := range core.Addresses(m.Recipients()) {
		req.To = email
		if err := d.client.Send(ctx, req); err != nil {
			return d.Finish(ctx, d.FailWith(core.KindTransport, err))
		}
	}
	return d.Finish(ctx, d.Succeed())
}

func (d *Driver) resolveList(ctx context.Context) (string, error) {
	if d.listID != "" {
		return d.listID, nil
	}
	l, err := d.client.ListByName(ctx, d.listName)
	if err != nil {
		if errors.Is(err, wcapi.ErrListNotFound) {
			return "", core.WrapError(string(core.DriverWhatCounts), core.KindConfiguration, 0, err.Error(), err)
		}
		return "", err
	}
	d.Logger().DebugContext(ctx, "resolved mailing list", slog.String("list", l.Name), slog.String("id", l.ID))
	d.listID = l.ID
	return l.ID, nil
}
