package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audit.Interval != 10*time.Second {
		t.Errorf("audit interval = %s, want 10s", cfg.Audit.Interval)
	}
	if cfg.Audit.ActivityTimeout != 30*time.Second {
		t.Errorf("activity timeout = %s, want 30s", cfg.Audit.ActivityTimeout)
	}
	if cfg.Audit.ReconnectDebounce != time.Second {
		t.Errorf("reconnect debounce = %s, want 1s", cfg.Audit.ReconnectDebounce)
	}
	if cfg.Audit.DisconnectGrace != 2*time.Second {
		t.Errorf("disconnect grace = %s, want 2s", cfg.Audit.DisconnectGrace)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Prefs.Path == "" {
		t.Error("prefs path must always resolve")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
log_level: debug
audit:
  interval: 5s
  activity_timeout: 0s
prefs:
  path: /tmp/micon-test/prefs.json
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Audit.Interval != 5*time.Second {
		t.Errorf("audit interval = %s, want 5s", cfg.Audit.Interval)
	}
	if cfg.Audit.ActivityTimeout != 0 {
		t.Errorf("activity timeout = %s, want disabled", cfg.Audit.ActivityTimeout)
	}
	if cfg.Prefs.Path != "/tmp/micon-test/prefs.json" {
		t.Errorf("prefs path = %q", cfg.Prefs.Path)
	}
	// Unset keys keep their defaults.
	if cfg.Audit.ReconnectDebounce != time.Second {
		t.Errorf("reconnect debounce = %s, want default 1s", cfg.Audit.ReconnectDebounce)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MICON_LOG_LEVEL", "trace")
	t.Setenv("MICON_AUDIT_INTERVAL", "3s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("log level = %q, want trace", cfg.LogLevel)
	}
	if cfg.Audit.Interval != 3*time.Second {
		t.Errorf("audit interval = %s, want 3s", cfg.Audit.Interval)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
