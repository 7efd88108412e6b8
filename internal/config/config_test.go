package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.DeliveryAttempts != DefaultDeliveryAttempts {
		t.Fatalf("delivery_attempts = %d", cfg.DeliveryAttempts)
	}
	if !cfg.AutomationEnabled {
		t.Fatal("automation disabled by default")
	}
	if cfg.RateLimitRPS != DefaultRateLimitRPS || cfg.RateLimitBurst != DefaultRateLimitBurst {
		t.Fatalf("rate limits = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("listen_addr: \":9090\"\ndelivery_attempts: 5\nautomation_enabled: false\nbaseline_permissions:\n  - \"demo:read\"\n  - \"demo:write\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.DeliveryAttempts != 5 {
		t.Fatalf("delivery_attempts = %d", cfg.DeliveryAttempts)
	}
	if cfg.AutomationEnabled {
		t.Fatal("automation_enabled not read from file")
	}
	if len(cfg.BaselinePermissions) != 2 || cfg.BaselinePermissions[0] != "demo:read" {
		t.Fatalf("baseline_permissions = %v", cfg.BaselinePermissions)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AUTHGRID_LISTEN_ADDR", ":7070")
	t.Setenv("AUTHGRID_BASELINE_PERMISSIONS", "a:read, b:write")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env override lost: %q", cfg.ListenAddr)
	}
	if len(cfg.BaselinePermissions) != 2 || cfg.BaselinePermissions[1] != "b:write" {
		t.Fatalf("baseline_permissions = %v", cfg.BaselinePermissions)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
