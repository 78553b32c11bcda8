package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linehub.yaml")
	data := `
server:
  port: 8081
storage:
  driver: sqlite
  sqlite_path: /tmp/linehub.db
hub:
  max_lines: 2
  pairing_timeout: 90s
  default_lines:
    - id: caja-centro
      display_name: Caja Centro
auth:
  tokens:
    - token: secret
      subject_id: ana
      subject_type: cajero
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(LoadOptions{Path: path, EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8081 || cfg.Storage.Driver != DriverSQLite || cfg.Hub.MaxLines != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Hub.PairingTimeout != 90*time.Second {
		t.Fatalf("pairing timeout = %v", cfg.Hub.PairingTimeout)
	}
	if len(cfg.Hub.DefaultLines) != 1 || cfg.Hub.DefaultLines[0].DisplayName != "Caja Centro" {
		t.Fatalf("default lines = %+v", cfg.Hub.DefaultLines)
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].SubjectType != "cajero" {
		t.Fatalf("tokens = %+v", cfg.Auth.Tokens)
	}
	if cfg.Hub.HistoryMax != 250 {
		t.Fatalf("unset fields should keep defaults, history_max = %d", cfg.Hub.HistoryMax)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_MAX_LINES", "4")
	t.Setenv("WHATSAPP_LINES", "cajero1:Caja Uno, soporte")
	t.Setenv("LINEHUB_SERVER_PORT", "9090")
	t.Setenv("LINEHUB_ALLOW_ANONYMOUS_READ", "true")
	t.Setenv("LINEHUB_OPERATOR_TOKEN", "tok")

	cfg, err := Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Hub.MaxLines != 4 || cfg.Server.Port != 9090 || !cfg.Gateway.AllowAnonymousRead {
		t.Fatalf("env not applied: %+v", cfg)
	}
	want := []LineSeed{{ID: "cajero1", DisplayName: "Caja Uno"}, {ID: "soporte"}}
	if len(cfg.Hub.DefaultLines) != len(want) {
		t.Fatalf("seeds = %+v", cfg.Hub.DefaultLines)
	}
	for i := range want {
		if cfg.Hub.DefaultLines[i] != want[i] {
			t.Fatalf("seed[%d] = %+v, want %+v", i, cfg.Hub.DefaultLines[i], want[i])
		}
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0].Token != "tok" {
		t.Fatalf("tokens = %+v", cfg.Auth.Tokens)
	}
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("LINEHUB_TEST_ENVFILE_PORT=7070\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LINEHUB_TEST_ENVFILE_PORT") })

	if _, err := Load(LoadOptions{EnvFile: envFile}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("LINEHUB_TEST_ENVFILE_PORT"); got != "7070" {
		t.Fatalf("env file not loaded, got %q", got)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(*Config)
	}{
		{"port", "server.port", func(c *Config) { c.Server.Port = 0 }},
		{"driver", "storage.driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"max lines", "hub.max_lines", func(c *Config) { c.Hub.MaxLines = 0 }},
		{"history", "hub.history_default", func(c *Config) { c.Hub.HistoryDefault = 500 }},
		{"token", "auth.tokens[0]", func(c *Config) { c.Auth.Tokens = []StaticToken{{Token: "x"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)

			var cerr *ConfigError
			if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Fatalf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("LINEHUB_SERVER_PORT", "not-a-number")
	if _, err := Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Fatal("expected error for malformed port")
	}
}
