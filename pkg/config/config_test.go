package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Pool.MaxSize != 10 {
		t.Errorf("Expected default max size 10, got %d", cfg.Pool.MaxSize)
	}
	if cfg.Pool.CheckoutTimeout.Std() != 5*time.Second {
		t.Errorf("Expected default checkout timeout 5s, got %v", cfg.Pool.CheckoutTimeout.Std())
	}
	if cfg.Driver.Kind != "memory" {
		t.Errorf("Expected default driver memory, got %q", cfg.Driver.Kind)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pool:
  max_size: 25
  checkout_timeout: 250ms
  lazy_begin: true
driver:
  kind: postgres
  dsn: postgres://localhost:5432/app
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if cfg.Pool.MaxSize != 25 {
		t.Errorf("Expected max size 25, got %d", cfg.Pool.MaxSize)
	}
	if cfg.Pool.CheckoutTimeout.Std() != 250*time.Millisecond {
		t.Errorf("Expected checkout timeout 250ms, got %v", cfg.Pool.CheckoutTimeout.Std())
	}
	if !cfg.Pool.LazyBegin {
		t.Error("Expected lazy begin enabled")
	}
	if cfg.Driver.Kind != "postgres" || cfg.Driver.DSN == "" {
		t.Errorf("Driver config not applied: %+v", cfg.Driver)
	}
	// Untouched fields keep their defaults
	if cfg.Pool.OpTimeout.Std() != 10*time.Second {
		t.Errorf("Expected default op timeout preserved, got %v", cfg.Pool.OpTimeout.Std())
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero max size", "pool:\n  max_size: 0\n"},
		{"unknown driver", "driver:\n  kind: oracle\n"},
		{"postgres without dsn", "driver:\n  kind: postgres\n"},
		{"bad duration", "pool:\n  checkout_timeout: fast\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"malformed yaml", "pool: [\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Errorf("Expected error for %s", tc.name)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  max_size: 3\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Pool.MaxSize != 3 {
		t.Errorf("Expected max size 3, got %d", cfg.Pool.MaxSize)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
