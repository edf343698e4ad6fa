package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_NeedsOnlyAPort(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without a port")
	}
	cfg.Port = 5000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with port should validate: %v", err)
	}
	if cfg.Addr() != ":5000" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	cfg.PoolSize = 0
	cfg.TickInterval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"port", "pool size", "tick interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PRATTLE_PORT", "6000")
	t.Setenv("PRATTLE_HOST", "127.0.0.1")
	t.Setenv("PRATTLE_POOL_SIZE", "4")
	t.Setenv("PRATTLE_TICK_INTERVAL", "25ms")
	t.Setenv("PRATTLE_ADMIN_ADDR", "")
	t.Setenv("PRATTLE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6000 || cfg.Host != "127.0.0.1" || cfg.PoolSize != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TickInterval != 25*time.Millisecond {
		t.Fatalf("tick interval = %s", cfg.TickInterval)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("admin addr should be disabled, got %q", cfg.AdminAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
	if cfg.Addr() != "127.0.0.1:6000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("PRATTLE_PORT", "not-a-number")
	t.Setenv("PRATTLE_STALL_TIMEOUT", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "PRATTLE_PORT") || !strings.Contains(err.Error(), "PRATTLE_STALL_TIMEOUT") {
		t.Fatalf("error should name both variables: %v", err)
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.env")
	if err := os.WriteFile(path, []byte("PRATTLE_MAX_SEND_ATTEMPTS=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv sets real environment variables; make sure they are undone.
	t.Setenv("PRATTLE_MAX_SEND_ATTEMPTS", "")
	os.Unsetenv("PRATTLE_MAX_SEND_ATTEMPTS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxSendAttempts != 7 {
		t.Fatalf("max send attempts = %d", cfg.MaxSendAttempts)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
