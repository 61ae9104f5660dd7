package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080, PublicBaseURL: "https://voice.example.com"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voiceline"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Billing: BillingConfig{
			FreeMinutesPerMonth: 100,
			PerMinuteRate:       decimal.RequireFromString("0.02"),
			MinimumBalance:      decimal.RequireFromString("0.10"),
			LineMonthlyCost:     decimal.RequireFromString("2.00"),
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Webhook.RouteBudget != 4*time.Second || c.Webhook.WhisperBudget != 2*time.Second {
		t.Fatalf("unexpected budgets: %+v", c.Webhook)
	}
	if c.Storage.AssetBackend != "postgres" {
		t.Fatalf("expected postgres asset backend default, got %q", c.Storage.AssetBackend)
	}
	if c.Audio.MaxUploadBytes != 5<<20 {
		t.Fatalf("expected 5MiB upload cap, got %d", c.Audio.MaxUploadBytes)
	}
}

func TestValidate_ProductionRequiresCarrierAndSSL(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "TWILIO_ACCOUNT_SID", "TWILIO_VALIDATE_SIGNATURES"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_S3BackendRequiresBucket(t *testing.T) {
	c := validLocal()
	c.Storage.AssetBackend = "s3"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "S3_BUCKET") {
		t.Fatalf("expected S3 error, got %v", err)
	}
}

func TestValidate_RejectsNonPositiveRate(t *testing.T) {
	c := validLocal()
	c.Billing.PerMinuteRate = decimal.Zero
	if err := c.Validate(); err == nil {
		t.Fatalf("expected rate error")
	}
}

func TestFromViper_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://voice.example.com/")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BILLING_PER_MINUTE_RATE", "0.03")

	c, err := fromViper(newViper())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", c.App.Port)
	}
	if c.App.PublicBaseURL != "https://voice.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.App.PublicBaseURL)
	}
	if !c.Billing.PerMinuteRate.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("unexpected rate %s", c.Billing.PerMinuteRate)
	}
	if c.Billing.FreeMinutesPerMonth != 100 {
		t.Fatalf("expected default free minutes, got %d", c.Billing.FreeMinutesPerMonth)
	}
}

func TestFromViper_ReportsBadDecimal(t *testing.T) {
	t.Setenv("BILLING_MINIMUM_BALANCE", "lots")
	if _, err := fromViper(newViper()); err == nil || !strings.Contains(err.Error(), "BILLING_MINIMUM_BALANCE") {
		t.Fatalf("expected decimal parse error, got %v", err)
	}
}
