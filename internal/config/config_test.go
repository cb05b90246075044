package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SendQueue/internal/email"
	"SendQueue/internal/retry"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sendqueue")
	t.Setenv("POSTMARK_SERVER_TOKEN", "token")
	t.Setenv("SENDING_DOMAIN", "mail.example.com")
	t.Setenv("DEFAULT_SENDER", "hello")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderPostmark, cfg.DeliveryProvider)
	assert.Equal(t, 10, cfg.BatchLimit)
	assert.Equal(t, 2*time.Minute, cfg.TriggerInterval)
	assert.Equal(t, 10*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 15*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "9090", cfg.MetricsPort)

	assert.Equal(t, retry.DefaultPolicy(), cfg.Policy())
	assert.Equal(t, email.Identity{DefaultSender: "hello", SendingDomain: "mail.example.com"}, cfg.Identity())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DELIVERY_PROVIDER", " SMTP ")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("RETRY_SCHEDULE", "30s,2m")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_JITTER", "0.2")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderSMTP, cfg.DeliveryProvider)
	assert.Equal(t, retry.Policy{
		Schedule:    []time.Duration{30 * time.Second, 2 * time.Minute},
		MaxAttempts: 3,
		Jitter:      0.2,
	}, cfg.Policy())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("BATCH_LIMIT", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		missing []string
		wantErr string
	}{
		{
			name:    "postmark needs token",
			cfg:     Config{DeliveryProvider: ProviderPostmark, DatabaseURL: "x", SendingDomain: "d", DefaultSender: "s"},
			missing: []string{"POSTMARK_SERVER_TOKEN"},
		},
		{
			name:    "smtp needs host",
			cfg:     Config{DeliveryProvider: ProviderSMTP, DatabaseURL: "x", SendingDomain: "d", DefaultSender: "s"},
			missing: []string{"SMTP_HOST"},
		},
		{
			name:    "everything missing",
			cfg:     Config{DeliveryProvider: ProviderPostmark},
			missing: []string{"DATABASE_URL", "POSTMARK_SERVER_TOKEN", "SENDING_DOMAIN", "DEFAULT_SENDER"},
		},
		{
			name: "memory store needs no database",
			cfg:  Config{DeliveryProvider: ProviderLog, MemoryStore: true, SendingDomain: "d", DefaultSender: "s"},
		},
		{
			name: "claim timeout shorter than delivery",
			cfg: Config{
				DeliveryProvider: ProviderLog, MemoryStore: true, SendingDomain: "d", DefaultSender: "s",
				ClaimTimeout: 5 * time.Second, DeliveryTimeout: 15 * time.Second,
			},
			wantErr: "CLAIM_TIMEOUT (5s) must exceed DELIVERY_TIMEOUT (15s)",
		},
		{
			name: "reaper disabled ignores delivery timeout",
			cfg: Config{
				DeliveryProvider: ProviderLog, MemoryStore: true, SendingDomain: "d", DefaultSender: "s",
				ClaimTimeout: 0, DeliveryTimeout: 15 * time.Second,
			},
		},
		{
			name:    "unknown provider",
			cfg:     Config{DeliveryProvider: "carrier-pigeon", DatabaseURL: "x", SendingDomain: "d", DefaultSender: "s"},
			wantErr: `unknown DELIVERY_PROVIDER "carrier-pigeon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if len(tt.missing) == 0 && tt.wantErr == "" {
				assert.NoError(t, err)
				assert.NoError(t, tt.cfg.Check(context.Background()))
				return
			}

			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			if len(tt.missing) > 0 {
				assert.ErrorIs(t, err, ErrMissing)
				for _, name := range tt.missing {
					assert.Contains(t, err.Error(), name)
				}
			}
		})
	}
}

func TestSender(t *testing.T) {
	base := Config{SendingDomain: "mail.example.com", DefaultSender: "hello"}

	cfg := base
	cfg.DeliveryProvider = ProviderPostmark
	cfg.PostmarkServerToken = "token"
	s, err := cfg.Sender(nil)
	require.NoError(t, err)
	assert.IsType(t, &email.PostmarkSender{}, s)

	cfg = base
	cfg.DeliveryProvider = ProviderSMTP
	cfg.SMTPHost = "smtp.example.com"
	s, err = cfg.Sender(nil)
	require.NoError(t, err)
	assert.IsType(t, &email.SMTPSender{}, s)

	cfg = base
	cfg.DeliveryProvider = ProviderPostmark
	_, err = cfg.Sender(nil)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)

	cfg = base
	cfg.DeliveryProvider = "fax"
	_, err = cfg.Sender(nil)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)
}

func TestLogger(t *testing.T) {
	cfg := Config{LogLevel: "debug", LogFormat: "console"}
	log, err := cfg.Logger()
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))

	cfg.LogLevel = "loud"
	_, err = cfg.Logger()
	assert.Error(t, err)
}
