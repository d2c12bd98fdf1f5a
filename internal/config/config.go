// Package config defines the process configuration for the ledger services.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"lexledger/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Ledger storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the top-level configuration. Sub-components receive only the
// subset they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"lexledger-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	AI            AIConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	// Public URL of the web app; checkout redirects land here.
	AppURL string `envconfig:"APP_URL" default:"http://localhost:3000" validate:"url"`
}

// DatabaseConfig selects the ledger store and tunes its connections.
// DATABASE_URL is required for postgres; SQLITE_PATH for sqlite.
type DatabaseConfig struct {
	Driver     string       `envconfig:"LEDGER_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	URL        SecretString `envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`
	SQLitePath string       `envconfig:"SQLITE_PATH" default:"lexledger.db" validate:"required_if=Driver sqlite"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS regional settings and queue identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Empty disables low-balance alerts.
	BalanceAlertQueue string `envconfig:"SQS_BALANCE_ALERTS" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe credentials and checkout redirects.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency            string       `envconfig:"STRIPE_CURRENCY" default:"brl" validate:"len=3"`
}

// AIConfig points the action proxy at an OpenAI-compatible gateway.
type AIConfig struct {
	GatewayURL string        `envconfig:"AI_GATEWAY_URL" default:"https://api.openai.com/v1" validate:"url"`
	APIKey     SecretString  `envconfig:"AI_API_KEY"`
	Model      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini" validate:"required"`
	MaxTokens  int           `envconfig:"AI_MAX_TOKENS" default:"4096" validate:"min=1"`
	Timeout    time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
}

// AuthConfig holds the shared secrets for trusted callers.
type AuthConfig struct {
	// Bearer token that resolves to a system actor.
	ServiceRoleKey SecretString `envconfig:"SERVICE_ROLE_KEY"`
	// Presented by the external scheduler in X-Cron-Secret.
	CronSecret SecretString `envconfig:"CRON_SECRET"`
}

// SecurityConfig holds browser-facing security settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LexLedger"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// IsLocal reports whether the process runs against local resources.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
