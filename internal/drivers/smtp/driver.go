// Package smtp relays messages through an SMTP server such as Gmail or a
// hosting provider's submission endpoint.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

const (
	portSubmission  = 587
	portImplicitTLS = 465
)

// Driver delivers the composed message over SMTP. It supports attachments
// and embedded images.
type Driver struct {
	core.Base

	addr        string
	host        string
	helo        string
	mode        core.TLSMode
	tlsConfig   *tls.Config
	auth        smtp.Auth
	connTimeout time.Duration
	compose     rawmime.Options
	signer      *dkim.SignOptions
}

// New validates cfg and returns a driver. No connection is made until Send.
func New(_ context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("host", cfg.Host); err != nil {
		return nil, err
	}

	mode := cfg.TLS
	port := cfg.Port
	if port == 0 {
		port = portSubmission
		if mode == core.TLSImplicit {
			port = portImplicitTLS
		}
	}
	if mode == "" && port == portImplicitTLS {
		mode = core.TLSImplicit
	}

	d := &Driver{
		Base: core.NewBase(core.DriverSMTP, env.Log()),
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host: cfg.Host,
		helo: "localhost",
		mode: mode,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for development relays
		},
		connTimeout: cfg.Timeout,
		compose: rawmime.Options{
			Now:     env.Clock(),
			Locale:  env.Locale,
			OmitBcc: true,
		},
	}
	if d.connTimeout == 0 {
		d.connTimeout = 30 * time.Second
	}
	if cfg.Credentials != nil {
		d.auth = smtp.PlainAuth("", cfg.Credentials.Username, cfg.Credentials.Password, cfg.Host)
	}
	if cfg.DKIM != nil {
		signer, err := rawmime.NewSignOptions(*cfg.DKIM)
		if err != nil {
			return nil, core.WrapError(string(core.DriverSMTP), core.KindConfiguration, 0, err.Error(), err)
		}
		d.signer = signer
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	return d, nil
}

// Send composes the message and runs one SMTP transaction.
func (d *Driver) Send(ctx context.Context) bool {
	if !d.BeginSend(ctx) {
		return d.Finish(ctx, false)
	}
	m := d.Message()

	raw, err := rawmime.Compose(m, d.compose)
	if err != nil {
		return d.Finish(ctx, d.FailWith(core.KindComposition, err))
	}
	if d.signer != nil {
		if raw, err = rawmime.Sign(raw, d.signer); err != nil {
			return d.Finish(ctx, d.FailWith(core.KindComposition, err))
		}
	}

	if err := d.deliver(ctx, m.Sender.Email, core.Addresses(m.Recipients()), raw); err != nil {
		return d.Finish(ctx, d.FailWith(core.KindTransport, transportError(err)))
	}
	return d.Finish(ctx, d.Succeed())
}

func (d *Driver) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(d.connTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	if d.mode == core.TLSImplicit {
		conn = tls.Client(conn, d.tlsConfig.Clone())
	}
	return conn, nil
}

func (d *Driver) deliver(ctx context.Context, from string, to []string, data []byte) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	logger := d.Logger().With(slog.String("addr", d.addr))
	if err = c.Hello(d.helo); err != nil {
		return err
	}
	if d.mode != core.TLSImplicit && d.mode != core.TLSNone {
		ok, _ := c.Extension("STARTTLS")
		switch {
		case ok:
			logger.DebugContext(ctx, "starttls")
			if err = c.StartTLS(d.tlsConfig.Clone()); err != nil {
				return err
			}
		case d.mode == core.TLSStartTLS:
			return errors.New("server does not support STARTTLS")
		}
	}
	if d.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err = c.Auth(d.auth); err != nil {
				return err
			}
		}
	}

	logger.DebugContext(ctx, "mail from", slog.String("from", from))
	if err = c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err = c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(data); err != nil {
		w.Close()
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func transportError(err error) *core.Error {
	code := 0
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		code = tpErr.Code
	}
	return core.WrapError(string(core.DriverSMTP), core.KindTransport, code, err.Error(), err)
}
