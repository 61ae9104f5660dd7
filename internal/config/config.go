package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment (optionally a file named by CONFIG_FILE).
// No business logic should depend on raw environment variables; main builds
// one Config and hands explicit sub-configs to each component.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Billing BillingConfig
	Webhook WebhookConfig
	Audio   AudioConfig
	Storage StorageConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin the carrier calls back
	// on (e.g. https://voice.example.com). Used to build webhook URLs.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIBaseURL string

	// ValidateSignatures enables X-Twilio-Signature checks on webhook routes.
	ValidateSignatures bool
}

type BillingConfig struct {
	FreeMinutesPerMonth int
	PerMinuteRate       decimal.Decimal
	MinimumBalance      decimal.Decimal
	LineMonthlyCost     decimal.Decimal
}

type WebhookConfig struct {
	// RouteBudget bounds the call-event webhook end to end.
	RouteBudget time.Duration
	// WhisperBudget bounds the whisper instruction fetch.
	WhisperBudget time.Duration
}

type AudioConfig struct {
	MaxUploadBytes int64
	// TranscodeConcurrency caps simultaneous uploads per account.
	TranscodeConcurrency int
}

type StorageConfig struct {
	// AssetBackend is "postgres" (inline bytea) or "s3".
	AssetBackend string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("TWILIO_API_BASE_URL", "https://api.twilio.com/2010-04-01")
	v.SetDefault("BILLING_FREE_MINUTES", 100)
	v.SetDefault("BILLING_PER_MINUTE_RATE", "0.02")
	v.SetDefault("BILLING_MINIMUM_BALANCE", "0.10")
	v.SetDefault("BILLING_LINE_MONTHLY_COST", "2.00")
	v.SetDefault("WEBHOOK_ROUTE_BUDGET", "4s")
	v.SetDefault("WEBHOOK_WHISPER_BUDGET", "2s")
	v.SetDefault("AUDIO_MAX_UPLOAD_BYTES", 5<<20)
	v.SetDefault("AUDIO_TRANSCODE_CONCURRENCY", 2)
	v.SetDefault("ASSET_BACKEND", "postgres")
	return v
}

func Load() (Config, error) {
	v := newViper()
	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = str(v, "APP_ENV")
	c.App.Port = v.GetInt("APP_PORT")
	c.App.PublicBaseURL = strings.TrimRight(str(v, "PUBLIC_BASE_URL"), "/")

	c.DB.Host = str(v, "DB_HOST")
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = str(v, "DB_USER")
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = str(v, "DB_NAME")
	c.DB.SSLMode = str(v, "DB_SSLMODE")

	c.Redis.Host = str(v, "REDIS_HOST")
	c.Redis.Port = v.GetInt("REDIS_PORT")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = str(v, "JWT_ISSUER")
	c.Auth.JWTAudience = str(v, "JWT_AUDIENCE")

	c.Twilio.AccountSID = str(v, "TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimRight(str(v, "TWILIO_API_BASE_URL"), "/")
	c.Twilio.ValidateSignatures = v.GetBool("TWILIO_VALIDATE_SIGNATURES")

	c.Billing.FreeMinutesPerMonth = v.GetInt("BILLING_FREE_MINUTES")
	c.Billing.PerMinuteRate, parseErrs = mustDecimal(v, "BILLING_PER_MINUTE_RATE", parseErrs)
	c.Billing.MinimumBalance, parseErrs = mustDecimal(v, "BILLING_MINIMUM_BALANCE", parseErrs)
	c.Billing.LineMonthlyCost, parseErrs = mustDecimal(v, "BILLING_LINE_MONTHLY_COST", parseErrs)

	c.Webhook.RouteBudget, parseErrs = mustDuration(v, "WEBHOOK_ROUTE_BUDGET", parseErrs)
	c.Webhook.WhisperBudget, parseErrs = mustDuration(v, "WEBHOOK_WHISPER_BUDGET", parseErrs)

	c.Audio.MaxUploadBytes = v.GetInt64("AUDIO_MAX_UPLOAD_BYTES")
	c.Audio.TranscodeConcurrency = v.GetInt("AUDIO_TRANSCODE_CONCURRENCY")

	c.Storage.AssetBackend = str(v, "ASSET_BACKEND")
	c.Storage.S3Endpoint = str(v, "S3_ENDPOINT")
	c.Storage.S3AccessKey = str(v, "S3_ACCESS_KEY")
	c.Storage.S3SecretKey = v.GetString("S3_SECRET_KEY")
	c.Storage.S3Bucket = str(v, "S3_BUCKET")
	c.Storage.S3UseSSL = v.GetBool("S3_USE_SSL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate accumulates every configuration problem and applies local-only
// defaults. It has a pointer receiver because defaults are written back.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicBaseURL, "http://") && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if !c.Twilio.ValidateSignatures {
			errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES must be enabled in production"))
		}
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when signature validation is enabled"))
	}

	if c.Billing.FreeMinutesPerMonth < 0 {
		errs = append(errs, fmt.Errorf("BILLING_FREE_MINUTES must be >= 0, got %d", c.Billing.FreeMinutesPerMonth))
	}
	if !c.Billing.PerMinuteRate.IsPositive() {
		errs = append(errs, errors.New("BILLING_PER_MINUTE_RATE must be > 0"))
	}
	if c.Billing.MinimumBalance.IsNegative() {
		errs = append(errs, errors.New("BILLING_MINIMUM_BALANCE must be >= 0"))
	}
	if c.Billing.LineMonthlyCost.IsNegative() {
		errs = append(errs, errors.New("BILLING_LINE_MONTHLY_COST must be >= 0"))
	}

	if c.Webhook.RouteBudget <= 0 {
		c.Webhook.RouteBudget = 4 * time.Second
	}
	if c.Webhook.WhisperBudget <= 0 {
		c.Webhook.WhisperBudget = 2 * time.Second
	}
	if c.Webhook.RouteBudget > 10*time.Second {
		errs = append(errs, fmt.Errorf("WEBHOOK_ROUTE_BUDGET must be <= 10s, got %s", c.Webhook.RouteBudget))
	}

	if c.Audio.MaxUploadBytes <= 0 {
		c.Audio.MaxUploadBytes = 5 << 20
	}
	if c.Audio.TranscodeConcurrency <= 0 {
		c.Audio.TranscodeConcurrency = 2
	}

	switch c.Storage.AssetBackend {
	case "", "postgres":
		c.Storage.AssetBackend = "postgres"
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3AccessKey == "" || c.Storage.S3SecretKey == "" || c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET are required when ASSET_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("ASSET_BACKEND must be one of postgres, s3, got %q", c.Storage.AssetBackend))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func mustDecimal(v *viper.Viper, key string, errs []error) (decimal.Decimal, []error) {
	raw := str(v, key)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, append(errs, fmt.Errorf("%s must be a decimal, got %q", key, raw))
	}
	return d, errs
}

func mustDuration(v *viper.Viper, key string, errs []error) (time.Duration, []error) {
	raw := str(v, key)
	if raw == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, raw))
	}
	return d, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
