// Package config loads the gateway configuration: a JSON5 file overlaid
// with THREADLINE_* environment variables. Secrets (DSN, encryption key,
// API keys, auth tokens) are env-only and never read from or written to
// the config file.
package config

// Config is the root configuration for the Threadline gateway.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Oracle    OracleConfig    `json:"oracle,omitempty"`
	Twilio    TwilioConfig    `json:"twilio,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PublicBaseURL is the externally visible base URL, used to
	// reconstruct the exact URL Twilio signed.
	PublicBaseURL string `json:"public_base_url,omitempty"`
	// APIToken guards the management endpoints. Env only.
	APIToken string `json:"-"`
	// SkipSignatureCheck disables webhook signature validation.
	// Local development only.
	SkipSignatureCheck bool `json:"skip_signature_check,omitempty"`
}

// DatabaseConfig selects the storage backend.
// PostgresDSN and EncryptionKey are secrets: env only.
type DatabaseConfig struct {
	// Mode is "standalone" (single-file SQLite, default) or "managed"
	// (Postgres).
	Mode          string `json:"mode,omitempty"`
	PostgresDSN   string `json:"-"`
	SQLitePath    string `json:"sqlite_path,omitempty"`
	EncryptionKey string `json:"-"`
}

// IsManaged reports whether the gateway runs against Postgres.
func (d DatabaseConfig) IsManaged() bool {
	return d.Mode == "managed" && d.PostgresDSN != ""
}

// OracleConfig configures the language-model provider used for intent
// classification and freeform replies.
type OracleConfig struct {
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"-"`
}

// TwilioConfig configures outbound delivery and webhook validation.
type TwilioConfig struct {
	AccountSID        string  `json:"account_sid,omitempty"`
	AuthToken         string  `json:"-"`
	MessagesPerSecond float64 `json:"messages_per_second,omitempty"`
}

// DeliveryConfig tunes outbound behavior.
type DeliveryConfig struct {
	// DevRedirect reroutes every outbound message to one number.
	// Non-production only.
	DevRedirect string `json:"dev_redirect,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18880,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.threadline/threadline.db",
		},
		Oracle: OracleConfig{
			Model: "gpt-4o-mini",
		},
		Twilio: TwilioConfig{
			MessagesPerSecond: 1,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "threadline",
		},
	}
}
