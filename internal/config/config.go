// Package config provides configuration loading for the API server.
// It uses koanf to merge an optional YAML file with environment overrides;
// environment variables take precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all settings for the service.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`
	Env        string `koanf:"env"`

	// DatabaseURL empty means the in-memory stores (dev/test mode).
	DatabaseURL string `koanf:"database_url"`

	// JWTSecret empty disables token verification; requests run as anonymous.
	JWTSecret string `koanf:"jwt_secret"`

	// Event delivery.
	DeliveryAttempts  int  `koanf:"delivery_attempts"`
	AutomationEnabled bool `koanf:"automation_enabled"`

	// RedisAddr empty disables the permission cache.
	RedisAddr       string `koanf:"redis_addr"`
	CacheTTLSeconds int    `koanf:"cache_ttl_seconds"`

	// HTTP rate limiting.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// BaselinePermissions overrides the built-in permission catalog.
	BaselinePermissions []string `koanf:"baseline_permissions"`
}

// Defaults for non-secret configuration.
const (
	DefaultListenAddr       = ":8080"
	DefaultEnv              = "development"
	DefaultDeliveryAttempts = 2
	DefaultCacheTTLSeconds  = 30
	DefaultRateLimitRPS     = 50.0
	DefaultRateLimitBurst   = 100
)

// Load reads configuration from an optional YAML file, then applies
// AUTHGRID_* environment overrides, then defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		ListenAddr:        k.String("listen_addr"),
		Env:               k.String("env"),
		DatabaseURL:       k.String("database_url"),
		JWTSecret:         k.String("jwt_secret"),
		DeliveryAttempts:  k.Int("delivery_attempts"),
		AutomationEnabled: true,
		RedisAddr:         k.String("redis_addr"),
		CacheTTLSeconds:   k.Int("cache_ttl_seconds"),
		RateLimitRPS:      k.Float64("rate_limit_rps"),
		RateLimitBurst:    k.Int("rate_limit_burst"),
	}
	if k.Exists("automation_enabled") {
		cfg.AutomationEnabled = k.Bool("automation_enabled")
	}
	if k.Exists("baseline_permissions") {
		cfg.BaselinePermissions = k.Strings("baseline_permissions")
	}

	applyEnv(cfg)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Env == "" {
		cfg.Env = DefaultEnv
	}
	if cfg.DeliveryAttempts <= 0 {
		cfg.DeliveryAttempts = DefaultDeliveryAttempts
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = DefaultRateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AUTHGRID_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AUTHGRID_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("AUTHGRID_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AUTHGRID_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("AUTHGRID_DELIVERY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeliveryAttempts = n
		}
	}
	if v := os.Getenv("AUTHGRID_AUTOMATION_ENABLED"); v != "" {
		cfg.AutomationEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AUTHGRID_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("AUTHGRID_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("AUTHGRID_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("AUTHGRID_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("AUTHGRID_BASELINE_PERMISSIONS"); v != "" {
		var actions []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				actions = append(actions, part)
			}
		}
		cfg.BaselinePermissions = actions
	}
}
