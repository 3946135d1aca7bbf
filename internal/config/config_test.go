package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUDIOGRAB_LISTEN_ADDR",
		"AUDIOGRAB_CACHE_DIR",
		"AUDIOGRAB_PUBLIC_BASE_URL",
		"AUDIOGRAB_RETENTION_PERIOD",
		"AUDIOGRAB_SWEEP_INTERVAL",
		"AUDIOGRAB_DURATION_CEILING",
		"AUDIOGRAB_FETCH_TIMEOUT",
		"AUDIOGRAB_REFRESH_DEBOUNCE",
		"AUDIOGRAB_BITRATE",
		"AUDIOGRAB_SEARCH_LIMIT",
		"AUDIOGRAB_CONFIG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.RetentionPeriod != 2*time.Hour {
		t.Fatalf("unexpected retention period %s", cfg.RetentionPeriod)
	}
	if cfg.SweepInterval != 100*time.Second {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
	if cfg.DurationCeiling != 5*time.Minute {
		t.Fatalf("unexpected duration ceiling %s", cfg.DurationCeiling)
	}
	if cfg.Bitrate != "256k" {
		t.Fatalf("unexpected bitrate %s", cfg.Bitrate)
	}
	if cfg.SearchLimit != 15 {
		t.Fatalf("unexpected search limit %d", cfg.SearchLimit)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIOGRAB_RETENTION_PERIOD", "1h")
	t.Setenv("AUDIOGRAB_DURATION_CEILING", "10m")
	t.Setenv("AUDIOGRAB_LISTEN_ADDR", "127.0.0.1:9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RetentionPeriod != time.Hour {
		t.Fatalf("unexpected retention period %s", cfg.RetentionPeriod)
	}
	if cfg.DurationCeiling != 10*time.Minute {
		t.Fatalf("unexpected duration ceiling %s", cfg.DurationCeiling)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
}

func TestLoadYAMLFileOverridesEnvironment(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "listen_addr: 127.0.0.1:7777\nbitrate: 192k\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIOGRAB_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("yaml should override env default, got %s", cfg.ListenAddr)
	}
	if cfg.Bitrate != "192k" {
		t.Fatalf("yaml should override bitrate, got %s", cfg.Bitrate)
	}
	// Fields missing from YAML keep their environment defaults.
	if cfg.RetentionPeriod != 2*time.Hour {
		t.Fatalf("unexpected retention period %s", cfg.RetentionPeriod)
	}
}

func TestValidateRejectsBrokenCombinations(t *testing.T) {
	clearEnv(t)

	base, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retention", func(c *Config) { c.RetentionPeriod = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"sweep longer than retention", func(c *Config) { c.SweepInterval = 3 * time.Hour }},
		{"zero duration ceiling", func(c *Config) { c.DurationCeiling = 0 }},
		{"zero search limit", func(c *Config) { c.SearchLimit = 0 }},
		{"empty bitrate", func(c *Config) { c.Bitrate = " " }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestResolveCacheDirCreatesDirectory(t *testing.T) {
	clearEnv(t)
	target := filepath.Join(t.TempDir(), "cache", "audios")
	t.Setenv("AUDIOGRAB_CACHE_DIR", target)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dir, err := cfg.ResolveCacheDir()
	if err != nil {
		t.Fatalf("ResolveCacheDir: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected directory at %s", dir)
	}
}
