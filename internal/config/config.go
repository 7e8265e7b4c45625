// Package config defines the runtime configuration for aqibot.
//
// Configuration is resolved once at startup from the process environment,
// optionally seeded from a dotenv file, and is read-only afterwards. Secrets
// may also come from the legacy token and credential files that older
// deployments kept next to the mailing list.
package config

import (
	"time"
)

// Failure policies for per-recipient errors.
const (
	FailurePolicyAbort    = "abort"
	FailurePolicyContinue = "continue"
)

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`

	WAQI      WAQIConfig
	SMTP      SMTPConfig
	Batch     BatchConfig
	Telemetry TelemetryConfig
}

// WAQIConfig holds the air quality feed settings.
type WAQIConfig struct {
	Token     SecretString  `envconfig:"WAQI_TOKEN" validate:"required"`
	TokenFile string        `envconfig:"WAQI_TOKEN_FILE"`
	BaseURL   string        `envconfig:"WAQI_BASE_URL" default:"https://api.waqi.info" validate:"required,url"`
	Timeout   time.Duration `envconfig:"WAQI_TIMEOUT" default:"10s" validate:"gt=0"`
}

// SMTPConfig holds the outbound relay and sender identity.
type SMTPConfig struct {
	Host            string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com" validate:"required,hostname|ip"`
	Port            int           `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	Timeout         time.Duration `envconfig:"SMTP_TIMEOUT" default:"10s" validate:"gt=0"`
	SenderAddress   string        `envconfig:"SENDER_ADDRESS" validate:"required,email"`
	SenderPassword  SecretString  `envconfig:"SENDER_PASSWORD" validate:"required"`
	SenderName      string        `envconfig:"SENDER_NAME" default:"Bay Area AQI Bot"`
	CredentialsFile string        `envconfig:"SENDER_CREDENTIALS_FILE"`
}

// BatchConfig controls the recipient loop.
type BatchConfig struct {
	RecipientsFile string        `envconfig:"RECIPIENTS_FILE" default:"Mailing-List.csv" validate:"required"`
	DefaultCity    string        `envconfig:"DEFAULT_CITY" default:"San Francisco" validate:"required"`
	PaceInterval   time.Duration `envconfig:"PACE_INTERVAL" default:"2s" validate:"gte=0"`
	FailurePolicy  string        `envconfig:"FAILURE_POLICY" default:"continue" validate:"oneof=abort continue"`
	DetailsURL     string        `envconfig:"DETAILS_URL" default:"https://www.iqair.com/us/usa/california/san-francisco" validate:"required,url"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled      bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"aqibot"`

	// MetricInterval is how often metrics are pushed during a run.
	MetricInterval time.Duration `envconfig:"OTEL_METRIC_EXPORT_INTERVAL" default:"5s"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrParsing indicates a value could not be parsed into its target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrSecretFile indicates a legacy token or credentials file was unreadable.
	ErrSecretFile ConfigErrorType = "SECRET_FILE"
	// ErrEnvFile indicates an explicitly requested dotenv file could not be loaded.
	ErrEnvFile ConfigErrorType = "ENV_FILE"
)
