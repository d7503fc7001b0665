package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Stripe rejects checkout sessions expiring in under 30 minutes, and the
// session expiry is the claim TTL measured from claim time.
const minStripeClaimTTL = 31 * time.Minute

type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	DB       DBConfig
	Payments PaymentsConfig
	Stripe   StripeConfig
	Mock     MockConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
	Mailtrap MailtrapConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type PaymentsConfig struct {
	Provider            string // stripe|mock
	FeeBasisPoints      int64
	SupportedCurrencies []string
	ClaimTTL            time.Duration
	SuccessURL          string
	CancelURL           string
	OnboardingReturnURL string
	OnboardingRefresh   string
	InitiateRateLimit   int
	InitiateRateWindow  time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	AccountType   string
	Country       string
}

type MockConfig struct {
	WebhookSecret string
	AutoOnboard   bool
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type SMTPConfig struct {
	Host          string
	Port          string
	User          string
	Pass          string
	TLSMode       string // none|starttls|tls
	SkipVerifyTLS bool
	From          string
	FromName      string
}

type MailtrapConfig struct {
	APIURL   string
	APIToken string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type StorageConfig struct {
	Driver        string // local|s3|none
	LocalDir      string
	S3Region      string
	S3Bucket      string
	S3Prefix      string
	PublicBaseURL string
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	// .env is optional; production uses real env vars
	_ = godotenv.Load()

	base := strings.TrimRight(envOr("APP_BASE_URL", "http://localhost:8080"), "/")

	cfg := Config{
		Env:      envOr("APP_ENV", "development"),
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),
		BaseURL:  base,
		DB: DBConfig{
			DSN:          os.Getenv("DB_DSN"),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 5),
		},
		Payments: PaymentsConfig{
			Provider:            envOr("PAYMENT_PROVIDER", "mock"),
			FeeBasisPoints:      int64(envInt("PLATFORM_FEE_BPS", 300)),
			SupportedCurrencies: envList("PAYMENT_CURRENCIES", "USD,CAD,EUR,GBP,AUD"),
			ClaimTTL:            envDuration("PAYMENT_CLAIM_TTL", 35*time.Minute),
			SuccessURL:          envOr("PAYMENT_SUCCESS_URL", base+"/payments/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:           envOr("PAYMENT_CANCEL_URL", base+"/payments/cancelled"),
			OnboardingReturnURL: envOr("ONBOARDING_RETURN_URL", base+"/landlord/onboarding/return"),
			OnboardingRefresh:   envOr("ONBOARDING_REFRESH_URL", base+"/landlord/onboarding/refresh"),
			InitiateRateLimit:   envInt("PAYMENT_INITIATE_RATE_LIMIT", 10),
			InitiateRateWindow:  envDuration("PAYMENT_INITIATE_RATE_WINDOW", time.Minute),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			AccountType:   envOr("STRIPE_ACCOUNT_TYPE", "express"),
			Country:       envOr("STRIPE_ACCOUNT_COUNTRY", "US"),
		},
		Mock: MockConfig{
			WebhookSecret: os.Getenv("MOCK_WEBHOOK_SECRET"),
			AutoOnboard:   envBool("MOCK_AUTO_ONBOARD", true),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    os.Getenv("JWT_ISSUER"),
		},
		SMTP: SMTPConfig{
			Host:          os.Getenv("SMTP_HOST"),
			Port:          envOr("SMTP_PORT", "1025"),
			User:          os.Getenv("SMTP_USER"),
			Pass:          os.Getenv("SMTP_PASS"),
			TLSMode:       envOr("SMTP_TLS_MODE", "none"),
			SkipVerifyTLS: envBool("SMTP_SKIP_VERIFY_TLS", false),
			From:          envOr("EMAIL_FROM", "no-reply@localhost"),
			FromName:      envOr("EMAIL_FROM_NAME", "Rent Payments"),
		},
		Mailtrap: MailtrapConfig{
			APIURL:   os.Getenv("MAILTRAP_API_URL"),
			APIToken: os.Getenv("MAILTRAP_API_TOKEN"),
		},
		Redis: RedisConfig{
			Addr:     strings.ReplaceAll(os.Getenv("REDIS_ADDR"), " ", ""),
			Password: os.Getenv("REDIS_PASS"),
			DB:       envInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS", ""),
			Topic:   envOr("KAFKA_PAYMENTS_TOPIC", "payments.transitions"),
		},
		Storage: StorageConfig{
			Driver:        envOr("STORAGE_DRIVER", "local"),
			LocalDir:      envOr("LOCAL_ARCHIVE_DIR", "./storage/webhooks"),
			S3Region:      os.Getenv("S3_REGION"),
			S3Bucket:      os.Getenv("S3_BUCKET"),
			S3Prefix:      envOr("S3_PREFIX", "webhooks"),
			PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		},
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	} else if _, err := mysql.ParseDSN(c.DB.DSN); err != nil {
		errs = append(errs, fmt.Errorf("DB_DSN: %w", err))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Payments.Provider {
	case "stripe":
		if c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for PAYMENT_PROVIDER=stripe"))
		}
		if c.Payments.ClaimTTL < minStripeClaimTTL {
			errs = append(errs, fmt.Errorf("PAYMENT_CLAIM_TTL must be at least %s for PAYMENT_PROVIDER=stripe, got %s", minStripeClaimTTL, c.Payments.ClaimTTL))
		}
	case "mock":
		if c.Mock.WebhookSecret == "" {
			errs = append(errs, errors.New("MOCK_WEBHOOK_SECRET is required for PAYMENT_PROVIDER=mock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER: %s", c.Payments.Provider))
	}
	if c.Payments.FeeBasisPoints < 0 || c.Payments.FeeBasisPoints > 10000 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_BPS out of range: %d", c.Payments.FeeBasisPoints))
	}
	if len(c.Payments.SupportedCurrencies) == 0 {
		errs = append(errs, errors.New("PAYMENT_CURRENCIES must list at least one currency"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if s := os.Getenv(k); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return def
}

// envDuration accepts Go durations ("15m") or plain seconds ("900").
func envDuration(k string, def time.Duration) time.Duration {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if v, err := strconv.Atoi(s); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func envList(k, def string) []string {
	raw := envOr(k, def)
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
