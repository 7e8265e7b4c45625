package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load. Any ConfigError is fatal to the run.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadOptions tune where configuration is read from.
type LoadOptions struct {
	// EnvFile is a dotenv file that must exist. When empty, ".env" in the
	// working directory is loaded if present.
	EnvFile string
}

// legacyCredentials is the JSON layout of the old Email-Credentials.txt file.
type legacyCredentials struct {
	Address  string `json:"Email Address"`
	Password string `json:"Password"`
}

// Load resolves and validates the configuration.
//
// Precedence: OS environment, then the dotenv file, then legacy secret files
// for any secret still empty.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, &ConfigError{Type: ErrEnvFile, Message: "failed to load " + opts.EnvFile, Err: err}
		}
	} else {
		// godotenv.Load does not override variables that are already set.
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := resolveSecretFiles(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct rules on an already populated Config.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "invalid " + strings.Join(fieldNames(fieldErrs), ", "),
				Err:     err,
			}
		}
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return nil
}

func fieldNames(errs validator.ValidationErrors) []string {
	names := make([]string, 0, len(errs))
	for _, fe := range errs {
		names = append(names, fe.Namespace())
	}
	return names
}

// resolveSecretFiles fills empty secrets from the legacy token and
// credentials files when those are configured.
func resolveSecretFiles(cfg *Config) error {
	if cfg.WAQI.Token == "" && cfg.WAQI.TokenFile != "" {
		raw, err := os.ReadFile(cfg.WAQI.TokenFile)
		if err != nil {
			return &ConfigError{Type: ErrSecretFile, Message: "failed to read WAQI token file", Err: err}
		}
		cfg.WAQI.Token = SecretString(strings.TrimSpace(string(raw)))
	}

	needsCreds := cfg.SMTP.SenderAddress == "" || cfg.SMTP.SenderPassword == ""
	if needsCreds && cfg.SMTP.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.SMTP.CredentialsFile)
		if err != nil {
			return &ConfigError{Type: ErrSecretFile, Message: "failed to read sender credentials file", Err: err}
		}
		var creds legacyCredentials
		if err := json.Unmarshal(raw, &creds); err != nil {
			// The decoder error may quote file content, so it is not wrapped.
			return &ConfigError{Type: ErrSecretFile, Message: "sender credentials file is not valid JSON"}
		}
		if cfg.SMTP.SenderAddress == "" {
			cfg.SMTP.SenderAddress = strings.TrimSpace(creds.Address)
		}
		if cfg.SMTP.SenderPassword == "" {
			cfg.SMTP.SenderPassword = SecretString(creds.Password)
		}
	}

	return nil
}
