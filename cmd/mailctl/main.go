package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	mailer "github.com/lattiq/multimailer"
)

type Globals struct {
	Config   string     `name:"config" short:"c" help:"Path to the mailer configuration file." env:"MAILCTL_CONFIG" default:"mailer.yaml" type:"path"`
	Group    []string   `name:"group" short:"g" help:"Driver group to use; repeat to chain groups." env:"MAILCTL_GROUP"`
	LogLevel slog.Level `name:"log-level" help:"Log level." env:"MAILCTL_LOG_LEVEL" default:"INFO" enum:"DEBUG,INFO,WARN,ERROR"`
	LongTLDs bool       `name:"long-tlds" help:"Accept top-level domains longer than three letters." env:"MAILCTL_LONG_TLDS" default:"true" negatable:""`
}

type CLI struct {
	Globals

	Send    sendCmd    `cmd:"" help:"Send a message through the configured driver chain."`
	Verify  verifyCmd  `cmd:"" help:"Ask the first driver to verify a sender address."`
	Drivers driversCmd `cmd:"" help:"List the supported drivers and their capabilities."`
	Version versionCmd `cmd:"" help:"Print version information."`
}

func (g *Globals) logger() *slog.Logger {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{Level: g.LogLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: g.LogLevel})
	}
	return slog.New(handler)
}

func (g *Globals) client(ctx context.Context, logger *slog.Logger) (*mailer.Client, *mailer.Config, error) {
	cfg, err := mailer.LoadConfig(g.Config)
	if err != nil {
		return nil, nil, err
	}
	opts := []mailer.Option{mailer.WithLogger(logger)}
	if g.LongTLDs {
		opts = append(opts, mailer.WithLongTLDs())
	}
	c, err := mailer.NewFromConfig(ctx, cfg, opts, g.Group...)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func (g *Globals) address(email string) (mailer.Address, error) {
	name, addr := "", email
	if i := strings.LastIndex(email, "<"); i >= 0 && strings.HasSuffix(email, ">") {
		name = strings.Trim(strings.TrimSpace(email[:i]), `"`)
		addr = email[i+1 : len(email)-1]
	}
	var opts []mailer.AddressOption
	if g.LongTLDs {
		opts = append(opts, mailer.AllowLongTLD())
	}
	return mailer.NewAddress(addr, name, opts...)
}

type sendCmd struct {
	From     string   `name:"from" help:"Sender address; defaults to the configured sender."`
	To       []string `name:"to" help:"Recipient address; repeatable."`
	CC       []string `name:"cc" help:"Cc address; repeatable."`
	BCC      []string `name:"bcc" help:"Bcc address; repeatable."`
	ReplyTo  string   `name:"reply-to" help:"Reply-To address."`
	Subject  string   `name:"subject" short:"s" help:"Message subject."`
	Body     string   `name:"body" short:"b" help:"Message body." xor:"body"`
	BodyFile string   `name:"body-file" help:"Read the message body from a file." type:"existingfile" xor:"body"`
	HTML     bool     `name:"html" help:"Treat the body as HTML."`
	Alt      string   `name:"alt" help:"Plain text alternative of an HTML body."`
	Attach   []string `name:"attach" short:"a" help:"Attachment as kind:source, where kind is file, url or string; repeatable."`
	List     string   `name:"list" help:"Add the recipients of a configured mailing list."`
	Tag      []string `name:"tag" help:"Provider tag; repeatable."`
}

func (s *sendCmd) Run(ctx context.Context, g *Globals, logger *slog.Logger) error {
	c, cfg, err := g.client(ctx, logger)
	if err != nil {
		return err
	}

	check := func(ok bool) error {
		if ok {
			return nil
		}
		return failure(c)
	}
	addrs := func(list []string, add func(mailer.Address) bool) error {
		for _, raw := range list {
			a, err := g.address(raw)
			if err != nil {
				return err
			}
			if err := check(add(a)); err != nil {
				return err
			}
		}
		return nil
	}

	if s.From != "" {
		a, err := g.address(s.From)
		if err != nil {
			return err
		}
		if err := check(c.SetSender(a)); err != nil {
			return err
		}
	}
	if s.ReplyTo != "" {
		a, err := g.address(s.ReplyTo)
		if err != nil {
			return err
		}
		if err := check(c.SetReplyTo(a)); err != nil {
			return err
		}
	}
	for _, step := range []struct {
		list []string
		add  func(mailer.Address) bool
	}{{s.To, c.AddRecipient}, {s.CC, c.AddCC}, {s.BCC, c.AddBCC}} {
		if err := addrs(step.list, step.add); err != nil {
			return err
		}
	}
	if s.List != "" {
		list, ok := cfg.List(s.List)
		if !ok {
			return fmt.Errorf("unknown mailing list %q", s.List)
		}
		if err := check(c.AddMailingList(list)); err != nil {
			return err
		}
	}

	body := s.Body
	if s.BodyFile != "" {
		b, err := os.ReadFile(s.BodyFile)
		if err != nil {
			return err
		}
		body = string(b)
	}
	c.SetSubject(s.Subject)
	if s.HTML {
		c.SetContentType(mailer.ContentTypeHTML)
	}
	c.SetMessage(body)
	if s.Alt != "" {
		c.SetAltMessage(s.Alt)
	}
	if len(s.Tag) > 0 {
		c.SetOptions(mailer.Options{Tags: s.Tag})
	}

	for _, spec := range s.Attach {
		kind, source, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("attachment %q is not kind:source", spec)
		}
		// A driver without attachment support fails here while the others
		// keep the file, so only a load failure is fatal.
		if !c.AttachFrom(ctx, mailer.SourceKind(kind), source, "") {
			if e := c.LastError(); e != nil && e.Driver == "client" {
				return e
			}
			logger.WarnContext(ctx, "attachment not accepted by every driver", slog.String("attachment", source))
		}
	}

	if !c.Send(ctx) {
		return check(false)
	}
	logger.InfoContext(ctx, "message sent")
	return nil
}

type verifyCmd struct {
	Email string `arg:"" help:"Address to verify."`
}

func (v *verifyCmd) Run(ctx context.Context, g *Globals, logger *slog.Logger) error {
	c, _, err := g.client(ctx, logger)
	if err != nil {
		return err
	}
	a, err := g.address(v.Email)
	if err != nil {
		return err
	}
	if !c.RequestEmailVerification(ctx, a) {
		return failure(c)
	}
	logger.InfoContext(ctx, "verification requested", slog.String("email", a.Email))
	return nil
}

func failure(c *mailer.Client) error {
	if e := c.LastError(); e != nil {
		return e
	}
	return errors.New("operation failed")
}

type driversCmd struct{}

func (driversCmd) Run(kctx *kong.Context) error {
	flag := func(b bool) string {
		if b {
			return "yes"
		}
		return "-"
	}
	fmt.Fprintf(kctx.Stdout, "%-12s %-12s %-10s %-9s %s\n", "DRIVER", "ATTACHMENTS", "IMAGES", "REPLY-TO", "VERIFY")
	for _, k := range mailer.DriverKinds() {
		caps, _ := mailer.Describe(k)
		fmt.Fprintf(kctx.Stdout, "%-12s %-12s %-10s %-9s %s\n", k,
			flag(caps.Attachments), flag(caps.EmbeddedImages), flag(caps.ReplyTo), flag(caps.Verification))
	}
	return nil
}

type versionCmd struct{}

func (versionCmd) Run(kctx *kong.Context) error {
	mailer.PrintVersion(kctx.Stdout)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mailctl"),
		kong.Description("Send mail through an ordered chain of providers."),
		kong.UsageOnError(),
	)
	logger := cli.logger()
	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&cli.Globals, logger)

	err := kctx.Run()
	if err != nil {
		var lastErr *mailer.Error
		if errors.As(err, &lastErr) {
			logger.Error("send failed",
				slog.String("driver", lastErr.Driver),
				slog.String("kind", string(lastErr.Kind)),
				slog.Int("code", lastErr.Code),
				slog.String("error", lastErr.Message))
		}
	}
	kctx.FatalIfErrorf(err)
}
