package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/drivers"
)

const tracerName = "github.com/lattiq/multimailer"

// Client dispatches one message through an ordered list of drivers.
// Mutators are broadcast to every driver and succeed only if all of them do.
// Send tries the drivers in order and stops at the first that accepts the
// message.
//
// A Client holds one message. There is no reset: build a new Client for the
// next message. Methods are safe for concurrent use.
type Client struct {
	drivers []Driver
	tracer  trace.Tracer
	logger  *slog.Logger
	env     Environment
	limit   int

	// ops serializes calls into the drivers, which are not safe for
	// concurrent use themselves.
	ops sync.Mutex

	mu   sync.Mutex
	err  *Error
	sent bool
}

// New builds one driver per configuration block, in order. The order is the
// failover priority.
func New(ctx context.Context, configs []DriverConfig, opts ...Option) (*Client, error) {
	if len(configs) == 0 {
		return nil, errNoDrivers()
	}
	s := newSettings(opts)
	env := s.environment()

	built := make([]Driver, 0, len(configs))
	for i, cfg := range configs {
		if err := validateDriverConfig(cfg); err != nil {
			return nil, fmt.Errorf("driver %d: %w", i, err)
		}
		d, err := drivers.New(ctx, cfg, env)
		if err != nil {
			return nil, fmt.Errorf("driver %d (%s): %w", i, cfg.Driver, err)
		}
		built = append(built, d)
	}
	return newClient(built, s), nil
}

// NewWithDrivers wraps drivers that were built elsewhere.
func NewWithDrivers(ds []Driver, opts ...Option) (*Client, error) {
	if len(ds) == 0 {
		return nil, errNoDrivers()
	}
	for i, d := range ds {
		if d == nil {
			return nil, core.NewConfigurationError(clientName, fmt.Sprintf("driver %d is nil", i))
		}
	}
	return newClient(append([]Driver(nil), ds...), newSettings(opts)), nil
}

func newClient(ds []Driver, s settings) *Client {
	return &Client{
		drivers: ds,
		tracer:  s.tracerProvider.Tracer(tracerName, trace.WithInstrumentationVersion(Version)),
		logger:  s.logger.With(slog.String("component", "mailer")),
		env:     s.environment(),
		limit:   s.concurrency,
	}
}

// Drivers returns the kinds of the configured drivers in failover order.
func (c *Client) Drivers() []DriverKind {
	return lo.Map(c.drivers, func(d Driver, _ int) DriverKind { return d.Kind() })
}

// SetOptions passes provider hints to every driver.
func (c *Client) SetOptions(opts Options) {
	c.broadcast(func(d Driver) bool { d.SetOptions(opts); return true })
}

// AddRecipient adds a To address on every driver.
func (c *Client) AddRecipient(a Address) bool {
	return c.fanOut("add_recipient", func(d Driver) bool { return d.AddRecipient(a) })
}

// AddCC adds a Cc address on every driver.
func (c *Client) AddCC(a Address) bool {
	return c.fanOut("add_cc", func(d Driver) bool { return d.AddCC(a) })
}

// AddBCC adds a Bcc address on every driver.
func (c *Client) AddBCC(a Address) bool {
	return c.fanOut("add_bcc", func(d Driver) bool { return d.AddBCC(a) })
}

// SetSender sets the From address on every driver.
func (c *Client) SetSender(a Address) bool {
	return c.fanOut("set_sender", func(d Driver) bool { return d.SetSender(a) })
}

// SetReplyTo sets the Reply-To address on every driver.
func (c *Client) SetReplyTo(a Address) bool {
	return c.fanOut("set_reply_to", func(d Driver) bool { return d.SetReplyTo(a) })
}

// SetSubject sets the subject on every driver.
func (c *Client) SetSubject(subject string) {
	c.broadcast(func(d Driver) bool { d.SetSubject(subject); return true })
}

// SetContentType sets the body content type on every driver.
func (c *Client) SetContentType(contentType string) {
	c.broadcast(func(d Driver) bool { d.SetContentType(contentType); return true })
}

// SetMessage sets the body on every driver.
func (c *Client) SetMessage(body string) {
	c.broadcast(func(d Driver) bool { d.SetMessage(body); return true })
}

// SetAltMessage sets the plain text alternative on every driver.
func (c *Client) SetAltMessage(body string) {
	c.broadcast(func(d Driver) bool { d.SetAltMessage(body); return true })
}

// AddAttachment attaches a on every driver. Drivers without attachment
// support fail while the others keep the attachment, so Send can still fail
// over to them.
func (c *Client) AddAttachment(a Attachment) bool {
	return c.fanOut("add_attachment", func(d Driver) bool { return d.AddAttachment(a) })
}

// AttachFrom loads an attachment from a source and adds it on every driver.
// A source that cannot be loaded is recorded as the client error.
func (c *Client) AttachFrom(ctx context.Context, kind SourceKind, source, name string) bool {
	src, err := core.LoadSource(ctx, c.env.HTTP(0), kind, source)
	if err != nil {
		c.setErr(core.AsError(clientName, core.KindValidation, err))
		return false
	}
	return c.AddAttachment(core.NewAttachment(src, name))
}

// SetEmbeddedImage embeds file as contentID on every driver.
func (c *Client) SetEmbeddedImage(contentID, file, alias string) bool {
	return c.fanOut("set_embedded_image", func(d Driver) bool { return d.SetEmbeddedImage(contentID, file, alias) })
}

// AddMailingList adds every address of list on every driver.
func (c *Client) AddMailingList(list MailingList) bool {
	ok := true
	for _, a := range list.To {
		ok = c.AddRecipient(Address{Email: a.Email, Name: a.Name}) && ok
	}
	for _, a := range list.CC {
		ok = c.AddCC(Address{Email: a.Email, Name: a.Name}) && ok
	}
	for _, a := range list.BCC {
		ok = c.AddBCC(Address{Email: a.Email, Name: a.Name}) && ok
	}
	return ok
}

// Log toggles per-send logging on every driver.
func (c *Client) Log(enabled bool) {
	c.broadcast(func(d Driver) bool { d.Log(enabled); return true })
}

// Send tries each driver in order and returns true at the first success.
// Later drivers are not attempted. It may be called once.
func (c *Client) Send(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "mailer.Client.Send",
		trace.WithAttributes(attribute.Int("mailer.drivers", len(c.drivers))))
	defer span.End()

	c.mu.Lock()
	if c.sent {
		c.err = errAlreadySent()
		c.mu.Unlock()
		span.RecordError(errAlreadySent())
		span.SetStatus(codes.Error, "message already sent")
		return false
	}
	c.sent = true
	c.err = nil
	c.mu.Unlock()

	c.ops.Lock()
	ok := c.failover(ctx, span)
	c.ops.Unlock()
	if ok {
		return true
	}

	if err := c.LastError(); err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, "all drivers failed")
	c.logger.ErrorContext(ctx, "message not sent", slog.Int("drivers", len(c.drivers)))
	return false
}

func (c *Client) failover(ctx context.Context, span trace.Span) bool {
	for i, d := range c.drivers {
		if i > 0 && ctx.Err() != nil {
			span.RecordError(ctx.Err())
			return false
		}
		if c.attempt(ctx, i, d) {
			span.SetAttributes(
				attribute.String("mailer.driver", d.Kind().String()),
				attribute.Int("mailer.attempts", i+1),
			)
			span.SetStatus(codes.Ok, "message accepted")
			return true
		}
	}
	return false
}

func (c *Client) attempt(ctx context.Context, i int, d Driver) bool {
	ctx, span := c.tracer.Start(ctx, "mailer.Client.Send.attempt",
		trace.WithAttributes(
			attribute.Int("mailer.attempt", i+1),
			attribute.String("mailer.driver", d.Kind().String()),
		))
	defer span.End()

	start := time.Now()
	ok := d.Send(ctx)
	span.SetAttributes(attribute.Int64("mailer.driver.duration_ms", time.Since(start).Milliseconds()))

	if ok {
		span.SetStatus(codes.Ok, "accepted")
		return true
	}

	attrs := []any{slog.String("driver", d.Kind().String()), slog.Int("attempt", i+1)}
	if err := d.LastError(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		attrs = append(attrs, slog.String("error", err.Error()))
	} else {
		span.SetStatus(codes.Error, "rejected")
	}
	c.logger.WarnContext(ctx, "driver failed to send", attrs...)
	return false
}

// RequestEmailVerification asks the first driver, and only the first, to
// verify a.
func (c *Client) RequestEmailVerification(ctx context.Context, a Address) bool {
	d := c.drivers[0]
	ctx, span := c.tracer.Start(ctx, "mailer.Client.RequestEmailVerification",
		trace.WithAttributes(attribute.String("mailer.driver", d.Kind().String())))
	defer span.End()

	c.ops.Lock()
	defer c.ops.Unlock()
	if d.RequestEmailVerification(ctx, a) {
		span.SetStatus(codes.Ok, "verification requested")
		return true
	}
	if err := d.LastError(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
	}
	return false
}

// LastError returns the client's own error, if any, then the first error
// found scanning the drivers in order. This is not necessarily the error of
// the last driver that attempted Send. Send discards an earlier client error
// such as a failed AttachFrom, so after a failed Send the result is the first
// driver's error.
func (c *Client) LastError() *Error {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.ops.Lock()
	defer c.ops.Unlock()
	for _, d := range c.drivers {
		if e := d.LastError(); e != nil {
			return e
		}
	}
	return nil
}

func (c *Client) setErr(err *Error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// fanOut calls fn on every driver, never short-circuiting, and returns the
// AND of the results.
func (c *Client) fanOut(op string, fn func(Driver) bool) bool {
	results := c.broadcast(fn)
	if !lo.Contains(results, false) {
		return true
	}
	failed := lo.FilterMap(c.drivers, func(d Driver, i int) (string, bool) {
		return d.Kind().String(), !results[i]
	})
	c.logger.Debug("fan-out incomplete", slog.String("op", op), slog.Any("failed", failed))
	return false
}

func (c *Client) broadcast(fn func(Driver) bool) []bool {
	c.ops.Lock()
	defer c.ops.Unlock()

	results := make([]bool, len(c.drivers))
	if c.limit <= 1 || len(c.drivers) == 1 {
		for i, d := range c.drivers {
			results[i] = fn(d)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, d := range c.drivers {
		g.Go(func() error {
			results[i] = fn(d)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
