package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SANDBOX_ID", "sbx-test")
	t.Setenv("SANDBOX_ACCESS_TOKEN", "secret-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8090" {
		t.Fatalf("port = %s, want 8090", cfg.Port)
	}
	if cfg.SandboxRoot != "/" {
		t.Fatalf("root = %s, want /", cfg.SandboxRoot)
	}
	if cfg.DefaultCommandTimeout != 5*time.Minute {
		t.Fatalf("default timeout = %s, want 5m", cfg.DefaultCommandTimeout)
	}
	if cfg.ExecutionRetentionMax != 2048 {
		t.Fatalf("retention max = %d, want 2048", cfg.ExecutionRetentionMax)
	}
	if cfg.ExecutionHistoryRetention != 24*time.Hour {
		t.Fatalf("history retention = %s, want 24h", cfg.ExecutionHistoryRetention)
	}
	if cfg.AccessTokenHash == "" || cfg.AccessTokenHash == "secret-token" {
		t.Fatalf("token must be stored hashed, got %q", cfg.AccessTokenHash)
	}
	if _, ok := cfg.Kernels["python"]; !ok {
		t.Fatalf("built-in python kernel missing")
	}
	if _, ok := cfg.Kernels["javascript"]; !ok {
		t.Fatalf("built-in javascript kernel missing")
	}
}

func TestLoadRequiresSandboxID(t *testing.T) {
	t.Setenv("SANDBOX_ID", "")
	t.Setenv("SANDBOX_ACCESS_TOKEN", "secret-token")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail without SANDBOX_ID")
	}
}

func TestLoadRequiresAccessToken(t *testing.T) {
	t.Setenv("SANDBOX_ID", "sbx-test")
	t.Setenv("SANDBOX_ACCESS_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail without SANDBOX_ACCESS_TOKEN")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SANDBOX_ROOT", "/workspace")
	t.Setenv("DEFAULT_COMMAND_TIMEOUT", "90s")
	t.Setenv("EXECUTION_RETENTION_MAX", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" || cfg.SandboxRoot != "/workspace" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DefaultCommandTimeout != 90*time.Second {
		t.Fatalf("timeout = %s, want 90s", cfg.DefaultCommandTimeout)
	}
	if cfg.ExecutionRetentionMax != 10 {
		t.Fatalf("retention max = %d, want 10", cfg.ExecutionRetentionMax)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEFAULT_COMMAND_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultCommandTimeout != 5*time.Minute {
		t.Fatalf("timeout = %s, want the 5m default", cfg.DefaultCommandTimeout)
	}
}

func TestLoadExpiresAt(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SANDBOX_EXPIRES_AT", "2026-09-01T12:00:00Z")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SandboxExpiresAt == nil || cfg.SandboxExpiresAt.Year() != 2026 {
		t.Fatalf("expires at = %v", cfg.SandboxExpiresAt)
	}

	t.Setenv("SANDBOX_EXPIRES_AT", "tomorrow")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a non-RFC3339 expiry")
	}
}

func TestKernelsConfigOverlay(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "kernels.yaml")
	content := `
kernels:
  r:
    argv: ["Rscript", "/opt/kernels/r-driver.R"]
  Python:
    argv: ["python3.12", "-u", "-c", "custom"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("KERNELS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	r, ok := cfg.Kernels["r"]
	if !ok || r.Argv[0] != "Rscript" {
		t.Fatalf("r kernel = %+v", r)
	}
	// Overlay languages are lowercased and replace built-ins.
	python := cfg.Kernels["python"]
	if python.Argv[0] != "python3.12" {
		t.Fatalf("python kernel not overridden: %+v", python)
	}
	// Untouched built-ins survive.
	if _, ok := cfg.Kernels["javascript"]; !ok {
		t.Fatalf("javascript kernel dropped by overlay")
	}
}

func TestKernelsConfigRejectsEmptyArgv(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "kernels.yaml")
	if err := os.WriteFile(path, []byte("kernels:\n  broken:\n    argv: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("KERNELS_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a kernel with empty argv")
	}
}
