package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const (
	insecureJWTSecret     = "change-me-in-production"
	insecureGatewaySecret = "gateway-dev-secret"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"learnly"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"learnly"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"learnly"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`

	PGLockTimeout time.Duration `env:"PG_LOCK_TIMEOUT" envDefault:"5s"`

	// Migrations
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`
	MigrationsDir  string `env:"MIGRATIONS_DIR"`

	// JWT
	JWTSecret          string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTStudentExpiry   string `env:"JWT_STUDENT_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry     string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`
	JWTAffiliateExpiry string `env:"JWT_AFFILIATE_EXPIRY" envDefault:"12h"`

	// Server
	APIPort         int           `env:"API_PORT" envDefault:"3100"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Payment gateway
	GatewayBaseURL       string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.gateway.local"`
	GatewayKeyID         string        `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret     string        `env:"GATEWAY_KEY_SECRET"`
	GatewayWebhookSecret string        `env:"GATEWAY_WEBHOOK_SECRET" envDefault:"gateway-dev-secret"`
	GatewayTimeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	// Invoicing and tax
	InvoicePrefix          string          `env:"INVOICE_PREFIX" envDefault:"FT"`
	FiscalYearStartMonth   int             `env:"FISCAL_YEAR_START_MONTH" envDefault:"4"`
	TaxRate                decimal.Decimal `env:"TAX_RATE" envDefault:"0.18"`
	PendingExpiryThreshold time.Duration   `env:"PENDING_EXPIRY_THRESHOLD" envDefault:"2h"`

	// Kafka
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaNotifyTopic string `env:"KAFKA_NOTIFY_TOPIC" envDefault:"learnly.enrollment.confirmed"`
	KafkaGroupID     string `env:"KAFKA_GROUP_ID" envDefault:"learnly-notify"`

	// Notification dispatcher
	NotifyQueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	NotifyWorkers   int `env:"NOTIFY_WORKERS" envDefault:"4"`

	// Guards
	CheckoutRateLimit   int           `env:"CHECKOUT_RATE_LIMIT" envDefault:"10"`
	CheckoutRateWindow  time.Duration `env:"CHECKOUT_RATE_WINDOW" envDefault:"1m"`
	CircuitMaxFailures  int           `env:"CIRCUIT_MAX_FAILURES" envDefault:"5"`
	CircuitResetTimeout time.Duration `env:"CIRCUIT_RESET_TIMEOUT" envDefault:"30s"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges, then insecure settings that must not run in
// production. Set ALLOW_INSECURE_DEFAULTS=true to bypass the latter (local dev only).
func (c *Config) Validate() error {
	if c.FiscalYearStartMonth < 1 || c.FiscalYearStartMonth > 12 {
		return fmt.Errorf("FISCAL_YEAR_START_MONTH must be 1-12, got %d", c.FiscalYearStartMonth)
	}
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be a fraction in [0, 1), got %s", c.TaxRate)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.GatewayWebhookSecret == insecureGatewaySecret || c.GatewayWebhookSecret == "" {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET must be set to the secret shared with the gateway")
	}
	if c.GatewayKeyID == "" || c.GatewayKeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_ID and GATEWAY_KEY_SECRET are required")
	}
	return nil
}

// FiscalYearStart returns the configured start month.
func (c *Config) FiscalYearStart() time.Month {
	return time.Month(c.FiscalYearStartMonth)
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
