// Package config manages application configuration from a YAML file, environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MARKPASTE_"

// Config holds runtime configuration for the paste server and export tool.
//
//nolint:govet // fields grouped by concern
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Storage   string `yaml:"storage"`
	AssetsDir string `yaml:"assets"`
	PagesDir  string `yaml:"pages"`

	AdminSecret string `yaml:"admin_secret"`
	TokenSecret string `yaml:"token_secret"`

	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MinTTL        time.Duration `yaml:"min_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
	MaxPasteSize  int           `yaml:"max_paste_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`

	HighlightStyle string `yaml:"highlight_style"`
	EnableD2       bool   `yaml:"enable_d2"`

	Debug   bool `yaml:"debug"`
	Verbose bool `yaml:"verbose"`
	LogJSON bool `yaml:"log_json"`
}

// Default returns ready-to-use defaults prior to file/env/flag overrides.
func Default() Config {
	return Config{
		Host:               "",
		Port:               8080,
		Storage:            "bolt:./data",
		AssetsDir:          "",
		DefaultTTL:         0, // 0 = pastes never expire
		MinTTL:             time.Minute,
		MaxTTL:             365 * 24 * time.Hour,
		MaxPasteSize:       512 << 10,
		SweepInterval:      10 * time.Minute,
		RateLimitPerMinute: 60,
		RateLimitBurst:     10,
		HighlightStyle:     "github-dark",
		EnableD2:           true,
	}
}

// LoadFile merges values from a YAML file into cfg. Keys absent from the file keep their current value.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path supplied by the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// FilePath returns the --config value in args, or MARKPASTE_CONFIG when the flag is absent.
// Other flags are ignored so the file can be loaded before the full flag set is parsed.
func FilePath(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	path := fs.StringP("config", "c", "", "")
	_ = fs.Parse(args)
	if *path != "" {
		return *path
	}
	raw, _ := lookupNonEmpty("CONFIG")
	return raw
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Host, "host", cfg.Host, "host name or address to bind")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server")
	fs.StringVarP(&cfg.Storage, "storage", "s", cfg.Storage, "storage spec '<type>:<config>' (bolt:<dir>, sqlite:<file>, redis:<addr>[/db])")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "serve static assets from this directory instead of the embedded copy")
	fs.StringVar(&cfg.PagesDir, "pages", cfg.PagesDir, "read informational pages from this directory and reload them on change")
	fs.StringVar(&cfg.AdminSecret, "admin-secret", cfg.AdminSecret, "credential for the /_admin endpoints")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "secret used to sign paste delete tokens")
	fs.DurationVar(&cfg.DefaultTTL, "default-ttl", cfg.DefaultTTL, "lifetime of pastes created without a ttl (0 = forever)")
	fs.DurationVar(&cfg.MinTTL, "min-ttl", cfg.MinTTL, "shortest lifetime a client may request")
	fs.DurationVar(&cfg.MaxTTL, "max-ttl", cfg.MaxTTL, "longest lifetime a client may request")
	fs.IntVar(&cfg.MaxPasteSize, "max-size", cfg.MaxPasteSize, "maximum paste size in bytes")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "how often expired pastes are purged")
	fs.IntVar(&cfg.RateLimitPerMinute, "rate-limit", cfg.RateLimitPerMinute, "create/preview requests allowed per client per minute (0 = unlimited)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-burst", cfg.RateLimitBurst, "burst size for the per-client rate limit")
	fs.StringVar(&cfg.HighlightStyle, "style", cfg.HighlightStyle, "chroma style used for syntax highlighting")
	fs.BoolVar(&cfg.EnableD2, "d2", cfg.EnableD2, "compile ```d2 fences into diagrams")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit logs as JSON")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("HOST", func(v string) { cfg.Host = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyStringEnv("STORAGE", func(v string) { cfg.Storage = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyStringEnv("PAGES", func(v string) { cfg.PagesDir = v })
	applyStringEnv("ADMIN_SECRET", func(v string) { cfg.AdminSecret = v })
	applyStringEnv("TOKEN_SECRET", func(v string) { cfg.TokenSecret = v })
	applyDurationEnv("DEFAULT_TTL", func(v time.Duration) { cfg.DefaultTTL = v })
	applyDurationEnv("MIN_TTL", func(v time.Duration) { cfg.MinTTL = v })
	applyDurationEnv("MAX_TTL", func(v time.Duration) { cfg.MaxTTL = v })
	applyIntEnv("MAX_SIZE", func(v int) { cfg.MaxPasteSize = v })
	applyDurationEnv("SWEEP_INTERVAL", func(v time.Duration) { cfg.SweepInterval = v })
	applyIntEnv("RATE_LIMIT", func(v int) { cfg.RateLimitPerMinute = v })
	applyIntEnv("RATE_BURST", func(v int) { cfg.RateLimitBurst = v })
	applyStringEnv("STYLE", func(v string) { cfg.HighlightStyle = v })
	applyBoolEnv("D2", func(v bool) { cfg.EnableD2 = v })
	applyBoolEnv("DEBUG", func(v bool) { cfg.Debug = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
	applyBoolEnv("LOG_JSON", func(v bool) { cfg.LogJSON = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes the configuration.
func Finalize(cfg *Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	cfg.Storage = strings.TrimSpace(cfg.Storage)
	if cfg.Storage == "" {
		return errors.New("storage spec is required")
	}
	if !strings.Contains(cfg.Storage, ":") {
		return fmt.Errorf("invalid storage spec %q: expected '<type>:<config>'", cfg.Storage)
	}

	if cfg.MaxPasteSize <= 0 {
		return fmt.Errorf("invalid max paste size: %d", cfg.MaxPasteSize)
	}
	if cfg.MinTTL < 0 || cfg.MaxTTL < 0 || cfg.DefaultTTL < 0 {
		return errors.New("ttl values must not be negative")
	}
	if cfg.MaxTTL > 0 && cfg.MinTTL > cfg.MaxTTL {
		return fmt.Errorf("min ttl %s exceeds max ttl %s", cfg.MinTTL, cfg.MaxTTL)
	}
	if cfg.DefaultTTL > 0 && cfg.MaxTTL > 0 && cfg.DefaultTTL > cfg.MaxTTL {
		return fmt.Errorf("default ttl %s exceeds max ttl %s", cfg.DefaultTTL, cfg.MaxTTL)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.RateLimitPerMinute < 0 {
		cfg.RateLimitPerMinute = 0
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}
	if strings.TrimSpace(cfg.HighlightStyle) == "" {
		cfg.HighlightStyle = "github-dark"
	}

	if cfg.AssetsDir != "" {
		assets, err := filepath.Abs(cfg.AssetsDir)
		if err != nil {
			return fmt.Errorf("resolve assets directory: %w", err)
		}
		cfg.AssetsDir = assets
	}
	if cfg.PagesDir != "" {
		pages, err := filepath.Abs(cfg.PagesDir)
		if err != nil {
			return fmt.Errorf("resolve pages directory: %w", err)
		}
		cfg.PagesDir = pages
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
