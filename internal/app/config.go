package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/gonasi/gonasi-backend/internal/data/db"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/validation"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/envutil"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
	"github.com/gonasi/gonasi-backend/internal/services"
)

type Config struct {
	LogMode  string
	HTTPAddr string

	Postgres db.PostgresConfig
	// RedisAddr empty selects the in-process locker.
	RedisAddr string

	PaystackSecretKey       string
	PaystackBaseURL         string
	PaystackAllowedIPs      []string
	PaystackVerifySignature bool

	DraftBucket         string
	PublishedBucket     string
	PublishedCDNDomain  string
	GCPCredentials      string
	ObjectStorageMode   string
	StorageEmulatorHost string

	// KafkaBrokers empty routes dead letters to the error log.
	KafkaBrokers         []string
	KafkaDeadLetterTopic string

	Outbox      services.OutboxConfig
	SagaSweeper services.SagaSweeperConfig

	JWTSecretKey   string
	AccessTokenTTL time.Duration
	CORSOrigins    []string

	// TrustedProxies gates X-Forwarded-For; the webhook origin check relies on it.
	TrustedProxies []string

	PublishPolicy validation.Policy
	FreeTier      string
	// Tiers seeds tier_limits at startup when set in the YAML overlay.
	Tiers []TierSetting

	MetricsEnabled bool
	Otel           observability.OtelConfig
}

type TierSetting struct {
	Tier                  string `yaml:"tier"`
	PlanCode              string `yaml:"plan_code"`
	PlatformFeePercentage string `yaml:"platform_fee_percentage"`
	PriceMonthly          string `yaml:"price_monthly"`
	MaxPublishedCourses   int    `yaml:"max_published_courses"`
}

// fileOverlay is the YAML document named by GONASI_CONFIG_FILE.
type fileOverlay struct {
	Paystack struct {
		AllowedIPs []string `yaml:"allowed_ips"`
	} `yaml:"paystack"`
	Publish *validation.Policy `yaml:"publish"`
	Tiers   []TierSetting      `yaml:"tiers"`
	CORS    struct {
		Origins []string `yaml:"origins"`
	} `yaml:"cors"`
}

// LoadConfig reads .env (if present), the process environment and the optional
// YAML overlay, in that order.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	policy := validation.DefaultPolicy()
	cfg := Config{
		LogMode:  envutil.String("LOG_MODE", "development"),
		HTTPAddr: envutil.String("HTTP_ADDR", ":8080"),
		Postgres: db.PostgresConfig{
			Host:            envutil.String("POSTGRES_HOST", "localhost"),
			Port:            envutil.String("POSTGRES_PORT", "5432"),
			User:            envutil.String("POSTGRES_USER", "postgres"),
			Password:        envutil.String("POSTGRES_PASSWORD", ""),
			Name:            envutil.String("POSTGRES_NAME", "gonasi"),
			SSLMode:         envutil.String("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    envutil.Int("POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envutil.Int("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envutil.Duration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		RedisAddr: envutil.String("REDIS_ADDR", ""),

		PaystackSecretKey:       envutil.String("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:         envutil.String("PAYSTACK_BASE_URL", paystack.DefaultBaseURL),
		PaystackAllowedIPs:      envutil.CSV("PAYSTACK_ALLOWED_IPS", services.DefaultPaystackIPs),
		PaystackVerifySignature: envutil.Bool("PAYSTACK_VERIFY_SIGNATURE", false),

		DraftBucket:         envutil.String("DRAFT_GCS_BUCKET_NAME", ""),
		PublishedBucket:     envutil.String("PUBLISHED_GCS_BUCKET_NAME", ""),
		PublishedCDNDomain:  envutil.String("PUBLISHED_CDN_DOMAIN", ""),
		GCPCredentials:      envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),
		ObjectStorageMode:   envutil.String("OBJECT_STORAGE_MODE", ""),
		StorageEmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),

		KafkaBrokers:         envutil.CSV("KAFKA_BROKERS", nil),
		KafkaDeadLetterTopic: envutil.String("KAFKA_DEADLETTER_TOPIC", "gonasi.side-effects.dead-letter"),

		Outbox: services.OutboxConfig{
			PollInterval: envutil.Duration("OUTBOX_POLL_INTERVAL", 15*time.Second),
			MaxAttempts:  envutil.Int("OUTBOX_MAX_ATTEMPTS", 8),
		},
		SagaSweeper: services.SagaSweeperConfig{
			Interval:   envutil.Duration("SAGA_SWEEP_INTERVAL", time.Minute),
			StaleAfter: envutil.Duration("SAGA_STALE_AFTER", 15*time.Minute),
		},

		JWTSecretKey:   envutil.String("AUTH_JWT_SECRET", ""),
		AccessTokenTTL: envutil.Duration("AUTH_ACCESS_TOKEN_TTL", time.Hour),
		CORSOrigins:    envutil.CSV("CORS_ALLOWED_ORIGINS", nil),
		TrustedProxies: envutil.CSV("TRUSTED_PROXIES", nil),

		PublishPolicy: validation.Policy{
			MinChapters:          envutil.Int("PUBLISH_MIN_CHAPTERS", policy.MinChapters),
			MinLessonsPerChapter: envutil.Int("PUBLISH_MIN_LESSONS_PER_CHAPTER", policy.MinLessonsPerChapter),
			MinBlocksPerLesson:   envutil.Int("PUBLISH_MIN_BLOCKS_PER_LESSON", policy.MinBlocksPerLesson),
		},
		FreeTier: strings.ToLower(envutil.String("FREE_TIER", "launch")),

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true),
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "gonasi-backend"),
			Environment: envutil.String("OTEL_ENVIRONMENT", "development"),
			Version:     envutil.String("OTEL_SERVICE_VERSION", ""),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLER_RATIO", 1),
		},
	}

	if path := envutil.String("GONASI_CONFIG_FILE", ""); path != "" {
		if err := applyOverlay(&cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.validate()
}

func applyOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(overlay.Paystack.AllowedIPs) > 0 {
		cfg.PaystackAllowedIPs = overlay.Paystack.AllowedIPs
	}
	if overlay.Publish != nil {
		cfg.PublishPolicy = *overlay.Publish
	}
	if len(overlay.Tiers) > 0 {
		cfg.Tiers = overlay.Tiers
	}
	if len(overlay.CORS.Origins) > 0 {
		cfg.CORSOrigins = overlay.CORS.Origins
	}
	return nil
}

func (c Config) validate() error {
	p := c.PublishPolicy
	if p.MinChapters < 0 || p.MinLessonsPerChapter < 0 || p.MinBlocksPerLesson < 0 {
		return fmt.Errorf("publish minimums must not be negative")
	}
	if c.PaystackVerifySignature && c.PaystackSecretKey == "" {
		return fmt.Errorf("PAYSTACK_VERIFY_SIGNATURE requires PAYSTACK_SECRET_KEY")
	}
	for _, t := range c.Tiers {
		if strings.TrimSpace(t.Tier) == "" {
			return fmt.Errorf("tier entry without a name")
		}
		if _, err := decimal.NewFromString(orZero(t.PlatformFeePercentage)); err != nil {
			return fmt.Errorf("tier %s: platform_fee_percentage: %w", t.Tier, err)
		}
		if _, err := decimal.NewFromString(orZero(t.PriceMonthly)); err != nil {
			return fmt.Errorf("tier %s: price_monthly: %w", t.Tier, err)
		}
	}
	return nil
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return strings.TrimSpace(s)
}
