package mailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"gopkg.in/yaml.v3"

	"github.com/lattiq/multimailer/internal/core"
)

// Config is the file form of a mailer setup. Drivers are grouped under a
// name; each group is an ordered failover chain.
//
//	drivers:
//	  transactional:
//	    - driver: smtp
//	      host: ${SMTP_HOST:-localhost}
//	    - driver: ses
//	      region: us-east-1
//	default: [transactional]
type Config struct {
	Drivers map[string][]DriverConfig `yaml:"drivers" validate:"required,min=1,dive,keys,required,endkeys,min=1,dive"`

	// Default names the groups used when Resolve is called without names.
	Default []string `yaml:"default,omitempty"`

	// Lists are named recipient sets applied with Client.AddMailingList.
	Lists map[string]MailingList `yaml:"lists,omitempty" validate:"omitempty,dive"`
}

// MailingList is a named set of recipients.
type MailingList struct {
	To  []AddressConfig `yaml:"to,omitempty" validate:"omitempty,dive"`
	CC  []AddressConfig `yaml:"cc,omitempty" validate:"omitempty,dive"`
	BCC []AddressConfig `yaml:"bcc,omitempty" validate:"omitempty,dive"`
}

// Size returns the number of addresses in the list.
func (l MailingList) Size() int {
	return len(l.To) + len(l.CC) + len(l.BCC)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig expands ${VAR} and ${VAR:-default} references, then decodes
// and validates data.
func ParseConfig(data []byte) (*Config, error) {
	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, core.WrapError(clientName, core.KindConfiguration, 0, "failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints, driver kinds and default group names.
func (c *Config) Validate() error {
	v, err := configValidator()
	if err != nil {
		return err
	}
	if err := v.check(c); err != nil {
		return err
	}
	for _, name := range c.Default {
		if _, ok := c.Drivers[name]; !ok {
			return core.NewConfigurationError(clientName, fmt.Sprintf("default group %q is not defined", name))
		}
	}
	return nil
}

// Resolve returns the driver chain for the named groups, concatenated in
// order. Without names it uses Default, or the only group when there is
// exactly one.
func (c *Config) Resolve(names ...string) ([]DriverConfig, error) {
	if len(names) == 0 {
		names = c.Default
	}
	if len(names) == 0 {
		if len(c.Drivers) != 1 {
			return nil, core.NewConfigurationError(clientName, "no driver group selected and no default configured")
		}
		for name := range c.Drivers {
			names = []string{name}
		}
	}

	var out []DriverConfig
	for _, name := range names {
		group, ok := c.Drivers[name]
		if !ok {
			return nil, core.NewConfigurationError(clientName, fmt.Sprintf("unknown driver group %q", name))
		}
		out = append(out, group...)
	}
	return out, nil
}

// List returns the named mailing list.
func (c *Config) List(name string) (MailingList, bool) {
	l, ok := c.Lists[name]
	return l, ok
}

// Groups returns the configured group names, sorted.
func (c *Config) Groups() []string {
	names := make([]string, 0, len(c.Drivers))
	for name := range c.Drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewFromConfig resolves names against cfg and builds a Client.
func NewFromConfig(ctx context.Context, cfg *Config, opts []Option, names ...string) (*Client, error) {
	chain, err := cfg.Resolve(names...)
	if err != nil {
		return nil, err
	}
	return New(ctx, chain, opts...)
}

func validateDriverConfig(cfg DriverConfig) error {
	v, err := configValidator()
	if err != nil {
		return err
	}
	return v.check(&cfg)
}

type structValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var configValidator = sync.OnceValues(newStructValidator)

func newStructValidator() (*structValidator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, errors.New("translator not found")
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	//nolint:errcheck
	validate.RegisterTranslation("driverkind", enTrans,
		func(ut ut.Translator) error {
			return ut.Add("driverkind", "{0} must be one of "+strings.Join(kindNames(), " "), false)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(fe.Tag(), fe.Field())
			return t
		},
	)
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(DriverConfig)
		if cfg.Driver != "" && !cfg.Driver.Valid() {
			sl.ReportError(cfg.Driver, "driver", "Driver", "driverkind", "")
		}
	}, DriverConfig{})

	return &structValidator{validate: validate, translator: enTrans}, nil
}

// check returns a configuration error listing every failed field.
func (v *structValidator) check(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return core.WrapError(clientName, core.KindConfiguration, 0, "invalid configuration", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", trimNamespace(fe.Namespace()), fe.Translate(v.translator)))
	}
	slices.Sort(msgs)
	return core.NewConfigurationError(clientName, strings.Join(msgs, "; "))
}

func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func kindNames() []string {
	names := make([]string, len(core.DriverKinds))
	for i, k := range core.DriverKinds {
		names[i] = k.String()
	}
	return names
}
