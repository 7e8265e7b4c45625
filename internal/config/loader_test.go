package config_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqibot/internal/config"
)

// setRequiredEnv sets the variables Load needs for a valid Config and clears
// the ones that would make tests depend on the host environment.
func setRequiredEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("WAQI_TOKEN", "test-token")
	t.Setenv("SENDER_ADDRESS", "bot@example.com")
	t.Setenv("SENDER_PASSWORD", "hunter2")

	for _, key := range []string{
		"WAQI_TOKEN_FILE", "SENDER_CREDENTIALS_FILE", "FAILURE_POLICY",
		"PACE_INTERVAL", "DEFAULT_CITY", "SMTP_HOST", "SMTP_PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.WAQI.Token.Unmask())
	assert.Equal(t, "https://api.waqi.info", cfg.WAQI.BaseURL)
	assert.Equal(t, "smtp.gmail.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "Bay Area AQI Bot", cfg.SMTP.SenderName)
	assert.Equal(t, "San Francisco", cfg.Batch.DefaultCity)
	assert.Equal(t, 2*time.Second, cfg.Batch.PaceInterval)
	assert.Equal(t, config.FailurePolicyContinue, cfg.Batch.FailurePolicy)
	assert.Equal(t, "Mailing-List.csv", cfg.Batch.RecipientsFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.MetricInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FAILURE_POLICY", "abort")
	t.Setenv("PACE_INTERVAL", "500ms")
	t.Setenv("DEFAULT_CITY", "Oakland")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, config.FailurePolicyAbort, cfg.Batch.FailurePolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.PaceInterval)
	assert.Equal(t, "Oakland", cfg.Batch.DefaultCity)
	assert.Equal(t, 2525, cfg.SMTP.Port)
}

func TestLoad_MissingTokenIsValidationError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WAQI_TOKEN", "")

	_, err := config.Load(config.LoadOptions{})
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, config.ErrValidation, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "Token")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		wantType config.ConfigErrorType
	}{
		{"unknown failure policy", "FAILURE_POLICY", "retry", config.ErrValidation},
		{"bad sender address", "SENDER_ADDRESS", "not-an-email", config.ErrValidation},
		{"unparseable duration", "PACE_INTERVAL", "soon", config.ErrParsing},
		{"unparseable port", "SMTP_PORT", "smtp", config.ErrParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load(config.LoadOptions{})
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantType, cfgErr.Type)
		})
	}
}

func TestLoad_LegacySecretFiles(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()

	tokenPath := filepath.Join(dir, "TOKEN.txt")
	require.NoError(t, os.WriteFile(tokenPath, []byte("file-token\n"), 0o600))

	credsPath := filepath.Join(dir, "Email-Credentials.txt")
	creds, err := json.Marshal(map[string]string{"Email Address": "legacy@example.com", "Password": "legacy-pass"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(credsPath, creds, 0o600))

	t.Setenv("WAQI_TOKEN", "")
	t.Setenv("SENDER_ADDRESS", "")
	t.Setenv("SENDER_PASSWORD", "")
	t.Setenv("WAQI_TOKEN_FILE", tokenPath)
	t.Setenv("SENDER_CREDENTIALS_FILE", credsPath)

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.WAQI.Token.Unmask())
	assert.Equal(t, "legacy@example.com", cfg.SMTP.SenderAddress)
	assert.Equal(t, "legacy-pass", cfg.SMTP.SenderPassword.Unmask())
}

func TestLoad_EnvironmentWinsOverLegacyFile(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()

	tokenPath := filepath.Join(dir, "TOKEN.txt")
	require.NoError(t, os.WriteFile(tokenPath, []byte("file-token"), 0o600))
	t.Setenv("WAQI_TOKEN_FILE", tokenPath)

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test-token", cfg.WAQI.Token.Unmask())
}

func TestLoad_SecretFileErrors(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()

	t.Run("missing token file", func(t *testing.T) {
		t.Setenv("WAQI_TOKEN", "")
		t.Setenv("WAQI_TOKEN_FILE", filepath.Join(dir, "absent.txt"))

		_, err := config.Load(config.LoadOptions{})
		var cfgErr *config.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, config.ErrSecretFile, cfgErr.Type)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("credentials file is not json", func(t *testing.T) {
		credsPath := filepath.Join(dir, "creds.txt")
		require.NoError(t, os.WriteFile(credsPath, []byte("password=hunter2"), 0o600))
		t.Setenv("SENDER_PASSWORD", "")
		t.Setenv("SENDER_CREDENTIALS_FILE", credsPath)

		_, err := config.Load(config.LoadOptions{})
		var cfgErr *config.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, config.ErrSecretFile, cfgErr.Type)
		assert.NotContains(t, err.Error(), "hunter2")
	})
}

func TestLoad_ExplicitEnvFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEFAULT_CITY", "")
	os.Unsetenv("DEFAULT_CITY")

	envPath := filepath.Join(t.TempDir(), "aqibot.env")
	require.NoError(t, os.WriteFile(envPath, []byte("DEFAULT_CITY=Berkeley\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DEFAULT_CITY") })

	cfg, err := config.Load(config.LoadOptions{EnvFile: envPath})
	require.NoError(t, err)
	assert.Equal(t, "Berkeley", cfg.Batch.DefaultCity)

	_, err = config.Load(config.LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, config.ErrEnvFile, cfgErr.Type)
}

func TestSecretString_Redacts(t *testing.T) {
	s := config.SecretString("hunter2")

	assert.Equal(t, "***REDACTED***", s.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "hunter2")

	out, err := json.Marshal(struct{ Password config.SecretString }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.Equal(t, "hunter2", s.Unmask())
}

func TestConfigError_Error(t *testing.T) {
	err := &config.ConfigError{Type: config.ErrValidation, Message: "invalid Config.WAQI.Token"}
	assert.Equal(t, "[VALIDATION_FAILED] invalid Config.WAQI.Token", err.Error())
}
