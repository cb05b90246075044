package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"SendQueue/internal/email"
	"SendQueue/internal/retry"
)

// ErrMissing is returned by Validate when required variables are absent.
var ErrMissing = errors.New("config: missing required variables")

const (
	ProviderPostmark = "postmark"
	ProviderSMTP     = "smtp"
	ProviderLog      = "log"
)

type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// MemoryStore keeps jobs in process. Nothing survives a restart.
	MemoryStore bool `envconfig:"MEMORY_STORE" default:"false"`

	// ----------------------------
	// Delivery
	// ----------------------------
	DeliveryProvider    string        `envconfig:"DELIVERY_PROVIDER" default:"postmark"`
	PostmarkServerToken string        `envconfig:"POSTMARK_SERVER_TOKEN"`
	SMTPHost            string        `envconfig:"SMTP_HOST"`
	SMTPPort            int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser            string        `envconfig:"SMTP_USER"`
	SMTPPassword        string        `envconfig:"SMTP_PASSWORD"`
	SendingDomain       string        `envconfig:"SENDING_DOMAIN"`
	DefaultSender       string        `envconfig:"DEFAULT_SENDER"`
	ReplyTo             string        `envconfig:"REPLY_TO"`
	DeliveryTimeout     time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"15s"`

	// ----------------------------
	// Workers
	// ----------------------------
	BatchLimit      int             `envconfig:"BATCH_LIMIT" default:"10"`
	TriggerInterval time.Duration   `envconfig:"TRIGGER_INTERVAL" default:"2m"`
	ClaimTimeout    time.Duration   `envconfig:"CLAIM_TIMEOUT" default:"10m"`
	WorkerCount     int             `envconfig:"WORKER_COUNT" default:"1"`
	RateLimit       float64         `envconfig:"RATE_LIMIT" default:"10"`
	MaxAttempts     int             `envconfig:"MAX_ATTEMPTS" default:"5"`
	RetrySchedule   []time.Duration `envconfig:"RETRY_SCHEDULE" default:"1m,5m,15m,60m,360m"`
	RetryJitter     float64         `envconfig:"RETRY_JITTER" default:"0"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Logging
	// ----------------------------
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the environment. It only fails on malformed values; missing
// required variables are reported by Validate so that a running service can
// surface them per invocation.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.DeliveryProvider = strings.ToLower(strings.TrimSpace(cfg.DeliveryProvider))
	return &cfg, nil
}

// Validate names every required variable that is unset.
func (c *Config) Validate() error {
	var missing []string
	need := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	if !c.MemoryStore {
		need("DATABASE_URL", c.DatabaseURL)
	}

	var errs []error
	switch c.DeliveryProvider {
	case ProviderPostmark:
		need("POSTMARK_SERVER_TOKEN", c.PostmarkServerToken)
	case ProviderSMTP:
		need("SMTP_HOST", c.SMTPHost)
	case ProviderLog:
	default:
		errs = append(errs, fmt.Errorf("config: unknown DELIVERY_PROVIDER %q", c.DeliveryProvider))
	}

	if c.ClaimTimeout > 0 && c.ClaimTimeout <= c.DeliveryTimeout {
		errs = append(errs, fmt.Errorf("config: CLAIM_TIMEOUT (%s) must exceed DELIVERY_TIMEOUT (%s)", c.ClaimTimeout, c.DeliveryTimeout))
	}

	need("SENDING_DOMAIN", c.SendingDomain)
	need("DEFAULT_SENDER", c.DefaultSender)

	if len(missing) > 0 {
		errs = append([]error{fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))}, errs...)
	}
	return errors.Join(errs...)
}

// Check adapts Validate to a per-invocation preflight probe.
func (c *Config) Check(context.Context) error {
	return c.Validate()
}

func (c *Config) Policy() retry.Policy {
	return retry.Policy{
		Schedule:    append([]time.Duration(nil), c.RetrySchedule...),
		MaxAttempts: c.MaxAttempts,
		Jitter:      c.RetryJitter,
	}
}

func (c *Config) Identity() email.Identity {
	return email.Identity{
		DefaultSender: c.DefaultSender,
		SendingDomain: c.SendingDomain,
		ReplyTo:       c.ReplyTo,
	}
}

// Sender builds the delivery adapter selected by DELIVERY_PROVIDER.
func (c *Config) Sender(log *zap.Logger) (email.Sender, error) {
	id := c.Identity()

	switch c.DeliveryProvider {
	case ProviderPostmark:
		return email.NewPostmarkSender(c.PostmarkServerToken, id)
	case ProviderSMTP:
		return email.NewSMTPSender(c.SMTPHost, c.SMTPPort, c.SMTPUser, c.SMTPPassword, id)
	case ProviderLog:
		return &email.LogSender{Identity: id, Log: log}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", email.ErrInvalidConfig, c.DeliveryProvider)
	}
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
