package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
	if cfg.Sessions.StartAckTimeout != 10*time.Second {
		t.Errorf("expected 10s start ack timeout, got %v", cfg.Sessions.StartAckTimeout)
	}
	if cfg.Sessions.DrainTimeout != 2*time.Second {
		t.Errorf("expected 2s drain timeout, got %v", cfg.Sessions.DrainTimeout)
	}
	if cfg.Pairing.Timeout != 30*time.Second {
		t.Errorf("expected 30s pairing timeout, got %v", cfg.Pairing.Timeout)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "max concurrent must be > 0",
			mutate: func(c *Config) { c.Sessions.MaxConcurrent = 0 },
		},
		{
			name:   "default fps above range",
			mutate: func(c *Config) { c.Sessions.DefaultFPS = 240 },
		},
		{
			name:   "heartbeat timeout must exceed interval",
			mutate: func(c *Config) { c.Pairing.HeartbeatTimeout = c.Pairing.HeartbeatInterval },
		},
		{
			name:   "unknown storage driver",
			mutate: func(c *Config) { c.Storage.Driver = "postgres" },
		},
		{
			name: "short jwt secret with auth enabled",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = "short"
			},
		},
		{
			name: "adaptive busy threshold out of range",
			mutate: func(c *Config) {
				c.Sessions.Adaptive.Enabled = true
				c.Sessions.Adaptive.BusyThreshold = 1.5
			},
		},
		{
			name: "input rate limiting needs a rate",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Input.EventsPerSecond = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sessions.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Sessions.MaxConcurrent)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := []byte(`
sessions:
  max_concurrent: 2
  default_fps: 60
pairing:
  timeout: 5s
capture:
  sources:
    - id: virtual-1
      width: 1920
      height: 1080
`)
	if err := os.WriteFile(path, yamlData, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIDESCREEN_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sessions.MaxConcurrent != 2 || cfg.Sessions.DefaultFPS != 60 {
		t.Errorf("yaml values not applied: %+v", cfg.Sessions)
	}
	if cfg.Pairing.Timeout != 5*time.Second {
		t.Errorf("expected pairing timeout 5s, got %v", cfg.Pairing.Timeout)
	}
	if len(cfg.Capture.Sources) != 1 || cfg.Capture.Sources[0].ID != "virtual-1" {
		t.Errorf("capture sources not parsed: %+v", cfg.Capture.Sources)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override of log level, got %q", cfg.Logging.Level)
	}
	if cfg.Sessions.DrainTimeout != 2*time.Second {
		t.Errorf("expected unspecified values to keep defaults, got %v", cfg.Sessions.DrainTimeout)
	}
}

func TestLoad_InvalidYAMLFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: etcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid storage driver to fail")
	}
}
