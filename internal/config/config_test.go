package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Finalize(&cfg); err != nil {
		t.Fatalf("default config should finalize cleanly: %v", err)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKPASTE_PORT", "9090")
	t.Setenv("MARKPASTE_STORAGE", "sqlite:/tmp/pastes.db")
	t.Setenv("MARKPASTE_DEFAULT_TTL", "48h")
	t.Setenv("MARKPASTE_VERBOSE", "true")
	t.Setenv("MARKPASTE_RATE_LIMIT", "not-a-number")
	t.Setenv("MARKPASTE_HOST", "   ")

	cfg := Default()
	ApplyEnvOverrides(&cfg)

	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.Storage != "sqlite:/tmp/pastes.db" {
		t.Fatalf("unexpected storage %q", cfg.Storage)
	}
	if cfg.DefaultTTL != 48*time.Hour {
		t.Fatalf("unexpected default ttl %s", cfg.DefaultTTL)
	}
	if !cfg.Verbose {
		t.Fatalf("expected verbose to be enabled")
	}
	if cfg.RateLimitPerMinute != Default().RateLimitPerMinute {
		t.Fatalf("invalid integer should be ignored, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.Host != "" {
		t.Fatalf("blank env value should be ignored, got %q", cfg.Host)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MARKPASTE_PORT", "9090")

	cfg := Default()
	ApplyEnvOverrides(&cfg)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	if err := fs.Parse([]string{"--port", "7070", "--storage", "redis:localhost:6379/2", "--max-ttl", "720h"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Port != 7070 {
		t.Fatalf("flag should win over env, got %d", cfg.Port)
	}
	if cfg.Storage != "redis:localhost:6379/2" {
		t.Fatalf("unexpected storage %q", cfg.Storage)
	}
	if cfg.MaxTTL != 720*time.Hour {
		t.Fatalf("unexpected max ttl %s", cfg.MaxTTL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markpaste.yaml")
	content := "port: 3000\nstorage: bolt:/var/lib/markpaste\nhighlight_style: monokai\nenable_d2: false\ndefault_ttl: 24h\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Default()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Port != 3000 || cfg.Storage != "bolt:/var/lib/markpaste" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.HighlightStyle != "monokai" || cfg.EnableD2 {
		t.Fatalf("unexpected render options: style=%q d2=%v", cfg.HighlightStyle, cfg.EnableD2)
	}
	if cfg.DefaultTTL != 24*time.Hour {
		t.Fatalf("unexpected default ttl %s", cfg.DefaultTTL)
	}
	if cfg.MaxPasteSize != Default().MaxPasteSize {
		t.Fatalf("absent keys should keep defaults, got %d", cfg.MaxPasteSize)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := Default()
	if err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("port: [1, 2"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := LoadFile(path, &cfg)
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "missing storage", mutate: func(c *Config) { c.Storage = " " }, wantErr: "storage spec is required"},
		{name: "storage without type", mutate: func(c *Config) { c.Storage = "data" }, wantErr: "invalid storage spec"},
		{name: "zero size", mutate: func(c *Config) { c.MaxPasteSize = 0 }, wantErr: "invalid max paste size"},
		{name: "negative ttl", mutate: func(c *Config) { c.DefaultTTL = -time.Second }, wantErr: "must not be negative"},
		{name: "min above max", mutate: func(c *Config) { c.MinTTL = 48 * time.Hour; c.MaxTTL = time.Hour }, wantErr: "exceeds max ttl"},
		{name: "default above max", mutate: func(c *Config) { c.DefaultTTL = 48 * time.Hour; c.MaxTTL = time.Hour }, wantErr: "default ttl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Finalize(&cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFinalizeNormalizes(t *testing.T) {
	cfg := Default()
	cfg.SweepInterval = 0
	cfg.RateLimitPerMinute = -5
	cfg.RateLimitBurst = 0
	cfg.HighlightStyle = ""
	cfg.PagesDir = "pages"

	if err := Finalize(&cfg); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("expected default sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.RateLimitPerMinute != 0 || cfg.RateLimitBurst != 1 {
		t.Fatalf("unexpected rate limit %d/%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	if cfg.HighlightStyle != "github-dark" {
		t.Fatalf("unexpected style %q", cfg.HighlightStyle)
	}
	if !filepath.IsAbs(cfg.PagesDir) {
		t.Fatalf("pages dir should be absolute, got %q", cfg.PagesDir)
	}
}

func TestFilePath(t *testing.T) {
	t.Setenv("MARKPASTE_CONFIG", "")
	if got := FilePath([]string{"--port", "7070", "--config", "/etc/markpaste.yaml", "-v"}); got != "/etc/markpaste.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := FilePath([]string{"-c", "local.yaml"}); got != "local.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := FilePath([]string{"--unknown"}); got != "" {
		t.Fatalf("expected no path, got %q", got)
	}

	t.Setenv("MARKPASTE_CONFIG", "from-env.yaml")
	if got := FilePath(nil); got != "from-env.yaml" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}
