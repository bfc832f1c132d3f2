package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file is not an error: defaults plus env make a runnable
// standalone config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Server
	envStr("THREADLINE_HOST", &c.Server.Host)
	if v := os.Getenv("THREADLINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	envStr("THREADLINE_PUBLIC_BASE_URL", &c.Server.PublicBaseURL)
	envStr("THREADLINE_API_TOKEN", &c.Server.APIToken)
	if v := os.Getenv("THREADLINE_SKIP_SIGNATURE_CHECK"); v != "" {
		c.Server.SkipSignatureCheck = v == "true" || v == "1"
	}

	// Database (secrets env-only)
	envStr("THREADLINE_MODE", &c.Database.Mode)
	envStr("THREADLINE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("THREADLINE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("THREADLINE_ENCRYPTION_KEY", &c.Database.EncryptionKey)

	// Oracle
	envStr("THREADLINE_OPENAI_API_KEY", &c.Oracle.APIKey)
	envStr("THREADLINE_ORACLE_API_BASE", &c.Oracle.APIBase)
	envStr("THREADLINE_ORACLE_MODEL", &c.Oracle.Model)

	// Twilio
	envStr("THREADLINE_TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	envStr("THREADLINE_TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)

	// Delivery
	envStr("THREADLINE_DEV_REDIRECT", &c.Delivery.DevRedirect)

	// Telemetry
	envStr("THREADLINE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("THREADLINE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("THREADLINE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("THREADLINE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// An endpoint implies the operator wants traces.
	if c.Telemetry.Endpoint != "" && os.Getenv("THREADLINE_TELEMETRY_ENABLED") == "" {
		c.Telemetry.Enabled = true
	}
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// Validate checks the parts of the config that would otherwise fail
// deep inside startup.
func (c *Config) Validate() error {
	if c.Database.Mode != "" && c.Database.Mode != "standalone" && c.Database.Mode != "managed" {
		return fmt.Errorf("database.mode must be standalone or managed, got %q", c.Database.Mode)
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("managed mode requires THREADLINE_POSTGRES_DSN")
	}
	if c.Database.EncryptionKey == "" {
		return fmt.Errorf("THREADLINE_ENCRYPTION_KEY is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
