// Package ses sends raw MIME messages through Amazon Simple Email Service.
package ses

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/emersion/go-msgauth/dkim"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/rawmime"
)

const defaultTimeout = 30 * time.Second

// Client is the subset of the SES API used by the driver.
type Client interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
	VerifyEmailIdentity(ctx context.Context, params *ses.VerifyEmailIdentityInput, optFns ...func(*ses.Options)) (*ses.VerifyEmailIdentityOutput, error)
}

// Driver composes the message locally and submits it with SendRawEmail.
// Attachments and embedded images are not supported.
type Driver struct {
	core.Base

	client           Client
	configurationSet string
	compose          rawmime.Options
	signer           *dkim.SignOptions
	messageID        string
}

// New creates a driver backed by the AWS SDK. Credentials come from api_key
// and secret, then credentials, then the default AWS chain.
func New(ctx context.Context, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	if err := cfg.Require("region", cfg.Region); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient(cfg, env)),
	}
	switch {
	case cfg.APIKey != "":
		if err := cfg.Require("secret", cfg.Secret); err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.Secret, "")))
	case cfg.Credentials != nil:
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Credentials.Username, cfg.Credentials.Password, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, core.WrapError(string(core.DriverSES), core.KindConfiguration, 0, "failed to load AWS config: "+err.Error(), err)
	}

	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
		}
	})

	return NewWithClient(client, cfg, env)
}

// httpClient returns the caller's client when one was supplied. Otherwise it
// returns the SDK's buildable client, which the config loader can extend
// with a custom CA bundle from AWS_CA_BUNDLE.
func httpClient(cfg core.DriverConfig, env core.Environment) config.HTTPClient {
	if env.HTTPClient != nil {
		return env.HTTP(cfg.Timeout)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return awshttp.NewBuildableClient().WithTimeout(timeout)
}

// NewWithClient creates a driver around an existing SES client.
func NewWithClient(client Client, cfg core.DriverConfig, env core.Environment) (*Driver, error) {
	d := &Driver{
		Base:             core.NewBase(core.DriverSES, env.Log()),
		client:           client,
		configurationSet: cfg.ConfigurationSet,
		compose: rawmime.Options{
			Now:    env.Clock(),
			Locale: env.Locale,
		},
	}
	if err := d.Configure(cfg, env); err != nil {
		return nil, err
	}
	if cfg.DKIM != nil {
		signer, err := rawmime.NewSignOptions(*cfg.DKIM)
		if err != nil {
			return nil, core.WrapError(string(core.DriverSES), core.KindConfiguration, 0, err.Error(), err)
		}
		d.signer = signer
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

// Send composes and submits the message.
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

	input := &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: raw},
		Source:       aws.String(m.Sender.Email),
		Destinations: core.Addresses(m.Recipients()),
	}
	if d.configurationSet != "" {
		input.ConfigurationSetName = aws.String(d.configurationSet)
	}

	out, err := d.client.SendRawEmail(ctx, input)
	if err != nil {
		return d.Finish(ctx, d.transportFailure("failed to send email", err))
	}
	d.messageID = aws.ToString(out.MessageId)
	d.Logger().DebugContext(ctx, "ses accepted message", "message_id", d.messageID)

	return d.Finish(ctx, d.Succeed())
}

// RequestEmailVerification starts SES identity verification for a.
func (d *Driver) RequestEmailVerification(ctx context.Context, a core.Address) bool {
	if a.IsZero() {
		return d.Fail(core.KindValidation, 0, "address is required")
	}
	_, err := d.client.VerifyEmailIdentity(ctx, &ses.VerifyEmailIdentityInput{
		EmailAddress: aws.String(a.Email),
	})
	if err != nil {
		return d.transportFailure("failed to request verification", err)
	}
	return d.Succeed()
}

// MessageID returns the SES message id of the last accepted message.
func (d *Driver) MessageID() string {
	return d.messageID
}

func (d *Driver) transportFailure(message string, err error) bool {
	code := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code = re.HTTPStatusCode()
	}
	return d.FailWith(core.KindTransport, core.WrapError(string(core.DriverSES), core.KindTransport, code, message+": "+err.Error(), err))
}
