package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	AMQP      AMQPConfig
	Email     EmailConfig
	Slack     SlackConfig
	Webhook   WebhookConfig
	Outbox    OutboxConfig
	SLO       SLOConfig
	Scheduler SchedulerConfig
	Payment   PaymentConfig

	DeliveryRoutesPath string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
}

type WebhookConfig struct {
	SigningSecret   string
	SignatureMaxAge time.Duration
	RateLimitRate   float64
	RateLimitBurst  int

	AdyenHMACKey        string
	BraintreePublicKey  string
	BraintreePrivateKey string
}

// SecretFor returns the verification secret and key id for a provider. Providers
// without their own secret use the shared signing secret.
func (w WebhookConfig) SecretFor(provider string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "adyen":
		if w.AdyenHMACKey != "" {
			return w.AdyenHMACKey, ""
		}
	case "braintree":
		if w.BraintreePrivateKey != "" {
			return w.BraintreePrivateKey, w.BraintreePublicKey
		}
	}
	return w.SigningSecret, ""
}

type OutboxConfig struct {
	Enabled      bool
	BatchSize    int
	MaxRetries   int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	ExecTimeout  time.Duration
}

type SLOConfig struct {
	PendingCap   int
	Exporter     string
	Endpoint     string
	AuthToken    string
	PushInterval time.Duration
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	Jobs        string
}

type PaymentConfig struct {
	PlatformFeeBps  int64
	ProcessorFeeBps int64
	ProcessorFixed  int64
	DisputeFee      int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "tixgate"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tixgate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "tixgate.events"),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@tixgate.local"),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			Channel:    getenv("SLACK_CHANNEL", "#ops-alerts"),
		},
		Webhook: WebhookConfig{
			SigningSecret:   strings.TrimSpace(getenv("WEBHOOK_SIGNING_SECRET", "")),
			SignatureMaxAge: getenvDuration("WEBHOOK_SIGNATURE_MAX_AGE", 5*time.Minute),
			RateLimitRate:   getenvFloat("WEBHOOK_RATE_LIMIT_RATE", 50),
			RateLimitBurst:  getenvInt("WEBHOOK_RATE_LIMIT_BURST", 100),

			AdyenHMACKey:        strings.TrimSpace(getenv("ADYEN_HMAC_KEY", "")),
			BraintreePublicKey:  strings.TrimSpace(getenv("BRAINTREE_PUBLIC_KEY", "")),
			BraintreePrivateKey: strings.TrimSpace(getenv("BRAINTREE_PRIVATE_KEY", "")),
		},
		Outbox: OutboxConfig{
			Enabled:      getenvBool("OUTBOX_WORKER_ENABLED", true),
			BatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 50),
			MaxRetries:   getenvInt("OUTBOX_MAX_RETRIES", 5),
			PollInterval: getenvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			LeaseTimeout: getenvDuration("OUTBOX_LEASE_TIMEOUT", 2*time.Minute),
			ExecTimeout:  getenvDuration("OUTBOX_EXEC_TIMEOUT", 30*time.Second),
		},
		SLO: SLOConfig{
			PendingCap:   getenvInt("SLO_PENDING_CAP", 1000),
			Exporter:     strings.ToLower(strings.TrimSpace(getenv("SLO_METRICS_EXPORTER", ""))),
			Endpoint:     strings.TrimSpace(getenv("SLO_METRICS_ENDPOINT", "")),
			AuthToken:    strings.TrimSpace(getenv("SLO_METRICS_AUTH_TOKEN", "")),
			PushInterval: getenvDuration("SLO_PUSH_INTERVAL", time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 100),
			Jobs:        getenv("SCHEDULER_JOBS", ""),
		},
		Payment: PaymentConfig{
			PlatformFeeBps:  getenvInt64("PAYMENT_PLATFORM_FEE_BPS", 500),
			ProcessorFeeBps: getenvInt64("PAYMENT_PROCESSOR_FEE_BPS", 290),
			ProcessorFixed:  getenvInt64("PAYMENT_PROCESSOR_FIXED", 30),
			DisputeFee:      getenvInt64("PAYMENT_DISPUTE_FEE", 1500),
		},
		DeliveryRoutesPath: strings.TrimSpace(getenv("DELIVERY_ROUTES_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
