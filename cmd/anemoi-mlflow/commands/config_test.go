package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mariahpope/anemoi-training/internal/app"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "mlflow-token.json")
	path := writeConfigFile(t, `
log_format = "json"

[server]
url = "https://auth.example.int"

[auth]
refresh_expire_days = 10
file = "`+tokenFile+`"
`)

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.URL != "https://auth.example.int" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.LogFormat != app.LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.Auth.RefreshExpireDays != 10 {
		t.Errorf("RefreshExpireDays = %d, want 10", cfg.Auth.RefreshExpireDays)
	}
	if !cfg.Auth.Enabled {
		t.Error("Auth.Enabled must default to true")
	}
	if !cfg.Auth.SetEnv {
		t.Error("Auth.SetEnv must default to true")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "mlflow-token.json")
	path := writeConfigFile(t, `
[server]
url = "https://auth.example.int"

[auth]
refresh_expire_days = 10
file = "`+tokenFile+`"
`)

	environ := func() []string {
		return []string{
			"ANEMOI_AUTH__REFRESH_EXPIRE_DAYS=15",
			"ANEMOI_AUTH__ENABLED=false",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Auth.RefreshExpireDays != 15 {
		t.Errorf("RefreshExpireDays = %d, want env override 15", cfg.Auth.RefreshExpireDays)
	}
	if cfg.Auth.Enabled {
		t.Error("explicit ANEMOI_AUTH__ENABLED=false must override the default")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, `
[auth]
storage = "vault"
`)

	if _, err := loadConfig(path, nil, func() []string { return nil }); err == nil {
		t.Error("invalid config must be rejected")
	}
}
