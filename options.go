package mailer

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
)

// Option is a functional option for configuring the mailer client.
type Option func(*settings)

type settings struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	httpClient     *http.Client
	concurrency    int
	locale         language.Tag
	now            func() time.Time
	userAgent      string
	addressOptions []AddressOption
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:         slog.New(slog.DiscardHandler),
		tracerProvider: otel.GetTracerProvider(),
		concurrency:    1,
		locale:         language.AmericanEnglish,
		now:            time.Now,
		userAgent:      GetVersionInfo().UserAgent(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) environment() Environment {
	return Environment{
		HTTPClient:     s.httpClient,
		Logger:         s.logger,
		UserAgent:      s.userAgent,
		Locale:         s.locale,
		Now:            s.now,
		AddressOptions: s.addressOptions,
	}
}

// WithLogger sets the logger handed to the client and every driver.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider sets the provider of the client tracer. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		if tp != nil {
			s.tracerProvider = tp
		}
	}
}

// WithHTTPClient sets the client used by HTTP based drivers and for url
// attachment sources.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.httpClient = client
	}
}

// WithConcurrency fans mutators out to at most n drivers at a time. Send is
// always sequential.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLocale sets the Accept-Language and Content-Language of composed
// messages.
func WithLocale(tag language.Tag) Option {
	return func(s *settings) {
		s.locale = tag
	}
}

// WithClock sets the time source used for Date headers.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUserAgent overrides the User-Agent sent by HTTP based drivers.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

// WithLongTLDs accepts configured addresses whose top-level domain is longer
// than three characters.
func WithLongTLDs() Option {
	return func(s *settings) {
		s.addressOptions = append(s.addressOptions, AllowLongTLD())
	}
}
