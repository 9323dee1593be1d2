package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	PublicBaseURL    string
	AuthCookieSecure bool
	SignupCredits    int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Compute         ComputeConfig
	Payments        PaymentsConfig
	Email           EmailConfig
	Storage         StorageConfig
	RateLimit       RateLimitConfig
	Scheduler       SchedulerConfig
	Currency        CurrencyConfig
	PlatformMetrics PlatformMetricsConfig
}

// TelemetryConfig drives logging, tracing and metric export.
type TelemetryConfig struct {
	LogLevel           string
	LogFormat          string
	TracingEnabled     bool
	MetricsEnabled     bool
	OTLPEndpoint       string
	OTLPProtocol       string
	TraceSampleRatio   float64
	SlowQueryThreshold time.Duration
}

type ComputeConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PaymentsConfig struct {
	DodoAPIKey        string
	DodoProductID     string
	DodoReturnURL     string
	DodoEnvironment   string
	DodoWebhookSecret string
}

type EmailConfig struct {
	Provider     string
	AdminEmail   string
	BrevoAPIKey  string
	BrevoSender  string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type StorageConfig struct {
	Backend        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	SigningSecret  string
	URLTTL         time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ContactRate   float64
	ContactBurst  int
	CheckoutRate  float64
	CheckoutBurst int
	AuthRate      float64
	AuthBurst     int
	LockTTL       time.Duration
}

type SchedulerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	QueueSize    int
	PendingGrace time.Duration
}

type CurrencyConfig struct {
	RatesURL string
	CacheTTL time.Duration
}

type PlatformMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	otelEnabled := getenvBool("OTEL_ENABLED", true)

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "phage"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL:    strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AuthCookieSecure: authCookieSecure,
		SignupCredits:    getenvInt64("SIGNUP_CREDITS", 5),

		Telemetry: TelemetryConfig{
			LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:          strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TracingEnabled:     getenvBool("OTEL_TRACES_ENABLED", otelEnabled),
			MetricsEnabled:     getenvBool("OTEL_METRICS_ENABLED", otelEnabled),
			OTLPEndpoint:       strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:       strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			TraceSampleRatio:   getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQueryThreshold: getenvDuration("DATABASE_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "phage"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "phage.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Compute: ComputeConfig{
			BaseURL: strings.TrimRight(getenv("COMPUTE_API_URL", "https://greenrace66--md-fapi.modal.run"), "/"),
			Timeout: getenvDuration("COMPUTE_API_TIMEOUT", 2*time.Minute),
		},
		Payments: PaymentsConfig{
			DodoAPIKey:        strings.TrimSpace(getenv("DODO_PAYMENTS_API_KEY", "")),
			DodoProductID:     strings.TrimSpace(getenv("DODO_PAYMENTS_PRODUCT_ID", "")),
			DodoReturnURL:     strings.TrimSpace(getenv("DODO_PAYMENTS_RETURN_URL", "")),
			DodoEnvironment:   strings.ToLower(getenv("DODO_PAYMENTS_ENVIRONMENT", "test_mode")),
			DodoWebhookSecret: strings.TrimSpace(getenv("DODO_PAYMENTS_WEBHOOK_SECRET", "")),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getenv("EMAIL_PROVIDER", "brevo")),
			AdminEmail:   strings.TrimSpace(getenv("ADMIN_EMAIL", "")),
			BrevoAPIKey:  strings.TrimSpace(getenv("BREVO_API_KEY", "")),
			BrevoSender:  strings.TrimSpace(getenv("BREVO_SENDER_EMAIL", "")),
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@phage.local"),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(getenv("STORAGE_BACKEND", "database")),
			MinioEndpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
			MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
			MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
			MinioBucket:    getenv("MINIO_BUCKET", "phage"),
			MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
			SigningSecret:  strings.TrimSpace(getenv("STORAGE_SIGNING_SECRET", "")),
			URLTTL:         getenvDuration("STORAGE_URL_TTL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			ContactRate:   getenvFloat("RATE_LIMIT_CONTACT_RATE", 5.0/60.0),
			ContactBurst:  getenvInt("RATE_LIMIT_CONTACT_BURST", 5),
			CheckoutRate:  getenvFloat("RATE_LIMIT_CHECKOUT_RATE", 10.0/60.0),
			CheckoutBurst: getenvInt("RATE_LIMIT_CHECKOUT_BURST", 10),
			AuthRate:      getenvFloat("RATE_LIMIT_AUTH_RATE", 10.0/60.0),
			AuthBurst:     getenvInt("RATE_LIMIT_AUTH_BURST", 10),
			LockTTL:       getenvDuration("RATE_LIMIT_LOCK_TTL", 2*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getenvBool("SCHEDULER_ENABLED", true),
			PollInterval: getenvDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
			BatchSize:    getenvInt("SCHEDULER_BATCH_SIZE", 25),
			Workers:      getenvInt("SCHEDULER_WORKERS", 4),
			QueueSize:    getenvInt("SCHEDULER_QUEUE_SIZE", 100),
			PendingGrace: getenvDuration("SCHEDULER_PENDING_GRACE", 2*time.Minute),
		},
		Currency: CurrencyConfig{
			RatesURL: getenv("EXCHANGE_RATES_URL", "https://api.exchangerate-api.com/v4/latest/USD"),
			CacheTTL: getenvDuration("EXCHANGE_RATES_TTL", time.Hour),
		},
		PlatformMetrics: PlatformMetricsConfig{
			Enabled:   getenvBool("PLATFORM_METRICS_ENABLED", false),
			Exporter:  strings.ToLower(getenv("PLATFORM_METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("PLATFORM_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("PLATFORM_METRICS_AUTH_TOKEN", "")),
			Interval:  getenvDuration("PLATFORM_METRICS_INTERVAL", 15*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
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

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
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

// getenvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
