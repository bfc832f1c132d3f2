package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 18880 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Database.Mode != "standalone" {
		t.Errorf("default mode = %q", cfg.Database.Mode)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  // listener
  server: { host: "127.0.0.1", port: 9000 },
  twilio: { account_sid: "AC42", messages_per_second: 2 },
}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Twilio.AccountSID != "AC42" || cfg.Twilio.MessagesPerSecond != 2 {
		t.Errorf("twilio = %+v", cfg.Twilio)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{server: {host: "from-file", port: 9000}}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("THREADLINE_HOST", "from-env")
	t.Setenv("THREADLINE_PORT", "9001")
	t.Setenv("THREADLINE_TWILIO_AUTH_TOKEN", "secret-token")
	t.Setenv("THREADLINE_ENCRYPTION_KEY", "test-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "from-env" || cfg.Server.Port != 9001 {
		t.Errorf("env should win: %+v", cfg.Server)
	}
	if cfg.Twilio.AuthToken != "secret-token" {
		t.Error("auth token should come from env")
	}
	if cfg.Database.EncryptionKey != "test-key" {
		t.Error("encryption key should come from env")
	}
}

func TestLoad_TelemetryEndpointImpliesEnabled(t *testing.T) {
	t.Setenv("THREADLINE_TELEMETRY_ENDPOINT", "localhost:4318")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("configured endpoint should enable telemetry")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Database.EncryptionKey = "k"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Errorf("default + key should validate: %v", err)
	}

	cfg := base()
	cfg.Database.Mode = "clustered"
	if cfg.Validate() == nil {
		t.Error("unknown mode should fail")
	}

	cfg = base()
	cfg.Database.Mode = "managed"
	if cfg.Validate() == nil {
		t.Error("managed without DSN should fail")
	}

	cfg = base()
	cfg.Database.EncryptionKey = ""
	if cfg.Validate() == nil {
		t.Error("missing encryption key should fail")
	}

	cfg = base()
	cfg.Server.Port = 0
	if cfg.Validate() == nil {
		t.Error("zero port should fail")
	}
}
