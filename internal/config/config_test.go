package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "destroy"
	cfg.LogLevel = "loud"
	cfg.StateBackend = "floppy"
	cfg.Server.Port = -1
	cfg.Bank.CustodyAccount = " "

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"mode", "log_level", "state_backend", "port", "custody_account"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidatePostgresRequired(t *testing.T) {
	cfg := Defaults()
	cfg.StateBackend = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Errorf("got %v, want postgres error", err)
	}

	// A DSN substitutes for the discrete fields.
	cfg.Postgres.DSN = "postgres://u:p@db:5432/wagerd"
	if err := cfg.Validate(); err != nil {
		t.Errorf("dsn config does not validate: %v", err)
	}
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "archive") {
		t.Errorf("got %v, want archive error", err)
	}

	cfg.StateBackend = "postgres"
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres+archive does not validate: %v", err)
	}
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
state_backend = "postgres"
log_level = "debug"

[server]
port = 9999

[chain]
tick_interval = "5s"

[postgres]
dsn = "postgres://u:p@db:5432/wagerd"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WAGERD_SERVER_PORT", "7777")
	t.Setenv("WAGERD_REDIS_ENABLED", "true")
	t.Setenv("WAGERD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Env beats file, file beats defaults.
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.StateBackend != "postgres" {
		t.Errorf("state_backend = %q, want postgres", cfg.StateBackend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Chain.TickInterval.Duration != 5*time.Second {
		t.Errorf("tick_interval = %v, want 5s", cfg.Chain.TickInterval.Duration)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis not enabled by env override")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}
