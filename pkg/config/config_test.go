package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "loafy-booking", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Booking.PaymentWindow)
	assert.Equal(t, 10, cfg.Booking.OutOfTicketDiscountPercent)
	assert.Equal(t, 24, cfg.Booking.SubscriberCancellationHours)
	assert.Equal(t, 48, cfg.Booking.DropInCancellationHours)
	assert.Equal(t, "floor", cfg.Booking.RoundingMode)
	assert.Equal(t, time.Minute, cfg.Expiry.ScanInterval)
	assert.Equal(t, 3, cfg.Refund.MaxRetries)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BOOKING_PAYMENT_WINDOW", "15m")
	t.Setenv("BOOKING_ROUNDING_MODE", "ceil")
	t.Setenv("EVENTS_TRANSPORT", "rabbitmq")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Booking.PaymentWindow)
	assert.Equal(t, "ceil", cfg.Booking.RoundingMode)
	assert.Equal(t, "rabbitmq", cfg.Events.Transport)
}

func TestLoadWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=from-file\nBOOKING_MAX_GUESTS=3\n"), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.App.Name)
	assert.Equal(t, 3, cfg.Booking.MaxGuests)

	_, err = LoadWithPath(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:     AppConfig{Name: "loafy-booking", Environment: "development"},
			Server:  ServerConfig{Port: 8080},
			JWT:     JWTConfig{Secret: "secret"},
			Events:  EventsConfig{Transport: "kafka"},
			Expiry:  ExpiryConfig{ScanInterval: time.Minute},
			Booking: BookingConfig{OutOfTicketDiscountPercent: 10, MinorUnit: 1, RoundingMode: "floor"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing name", func(c *Config) { c.App.Name = "" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing secret", func(c *Config) { c.JWT.Secret = "" }, true},
		{"default secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "your-secret-key-change-in-production"
		}, true},
		{"discount above 100", func(c *Config) { c.Booking.OutOfTicketDiscountPercent = 101 }, true},
		{"zero minor unit", func(c *Config) { c.Booking.MinorUnit = 0 }, true},
		{"unknown rounding", func(c *Config) { c.Booking.RoundingMode = "banker" }, true},
		{"unknown transport", func(c *Config) { c.Events.Transport = "nats" }, true},
		{"zero scan interval", func(c *Config) { c.Expiry.ScanInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStripe(t *testing.T) {
	cfg := &Config{Stripe: StripeConfig{UseMock: true}}
	assert.NoError(t, cfg.ValidateStripe())

	cfg.Stripe.UseMock = false
	assert.Error(t, cfg.ValidateStripe())

	cfg.Stripe.SecretKey = "sk_test"
	cfg.Stripe.WebhookSecret = "whsec_test"
	assert.NoError(t, cfg.ValidateStripe())
}
