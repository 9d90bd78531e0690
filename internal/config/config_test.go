package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "console_auth:\n  console_uri: https://c.example/psql_session/\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.PostgresPort != 6432 {
		t.Errorf("PostgresPort = %d, want 6432", cfg.Listen.PostgresPort)
	}
	if cfg.ConsoleAuth.WebauthConfirmationTimeout != 2*time.Minute {
		t.Errorf("WebauthConfirmationTimeout = %v, want 2m", cfg.ConsoleAuth.WebauthConfirmationTimeout)
	}
	if cfg.Credentials.ThreadPoolWorkers != 4 {
		t.Errorf("ThreadPoolWorkers = %d, want 4", cfg.Credentials.ThreadPoolWorkers)
	}
}

func TestLoadRequiresConsoleURI(t *testing.T) {
	path := writeTestConfig(t, "listen:\n  postgres_port: 6432\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load succeeded without a console_uri")
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_CONSOLE_URI", "https://c.example/psql_session/")
	path := writeTestConfig(t, "console_auth:\n  console_uri: ${TEST_CONSOLE_URI}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConsoleAuth.ConsoleURI != "https://c.example/psql_session/" {
		t.Errorf("ConsoleURI = %q, want substituted value", cfg.ConsoleAuth.ConsoleURI)
	}
}
