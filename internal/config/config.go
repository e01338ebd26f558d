package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// HTTP API
	APIAddr           string `koanf:"api_addr"`
	TrustProxyHeaders bool   `koanf:"trust_proxy_headers"`

	// Authentication
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`

	// Rate Limiting
	RateLimitAuthWindow    time.Duration `koanf:"ratelimit_auth_window"`
	RateLimitAuthMax       int           `koanf:"ratelimit_auth_max"`
	RateLimitAPIWindow     time.Duration `koanf:"ratelimit_api_window"`
	RateLimitAPIMax        int           `koanf:"ratelimit_api_max"`
	RateLimitSweepInterval time.Duration `koanf:"ratelimit_sweep_interval"`
	RateLimitBackend       string        `koanf:"ratelimit_backend"`
	RateLimitAllowlist     []string      `koanf:"ratelimit_allowlist"`
	RateLimitUseRemoteAddr bool          `koanf:"ratelimit_use_remote_addr"`

	// Redis (shared rate-limit counters)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Audit Pool
	AuditWorkers    int           `koanf:"audit_workers"`
	AuditQueueDepth int           `koanf:"audit_queue_depth"`
	AuditMaxRetries int           `koanf:"audit_max_retries"`
	AuditRetryBase  time.Duration `koanf:"audit_retry_base"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.APIAddr = stripEnvQuotes(c.APIAddr)
	c.JWTSecret = stripEnvQuotes(c.JWTSecret)
	c.RateLimitBackend = stripEnvQuotes(c.RateLimitBackend)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.RateLimitAllowlist {
		c.RateLimitAllowlist[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"api_addr":                  ":8080",
		"trust_proxy_headers":       true,
		"token_ttl":                 "12h",
		"ratelimit_auth_window":     "15m",
		"ratelimit_auth_max":        5,
		"ratelimit_api_window":      "15m",
		"ratelimit_api_max":         100,
		"ratelimit_sweep_interval":  "1m",
		"ratelimit_backend":         "memory",
		"ratelimit_use_remote_addr": true,
		"redis_addr":                "redis:6379",
		"redis_db":                  0,
		"audit_workers":             2,
		"audit_queue_depth":         4096,
		"audit_max_retries":         3,
		"audit_retry_base":          "250ms",
		"data_dir":                  "/data",
		"log_level":                 "info",
		"log_format":                "json",
		"metrics_enabled":           true,
		"metrics_addr":              ":9090",
		"health_addr":               ":8081",
		"janitor_interval":          "5m",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// "." as delimiter keeps underscore names flat: JWT_SECRET → "jwt_secret".
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields that koanf won't split automatically
	cfg.RateLimitAllowlist = splitCSV(k.String("ratelimit_allowlist"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes; got %d", len(c.JWTSecret))
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0; got %s", c.TokenTTL)
	}

	if c.RateLimitAuthWindow <= 0 {
		return fmt.Errorf("RATELIMIT_AUTH_WINDOW must be > 0; got %s", c.RateLimitAuthWindow)
	}
	if c.RateLimitAPIWindow <= 0 {
		return fmt.Errorf("RATELIMIT_API_WINDOW must be > 0; got %s", c.RateLimitAPIWindow)
	}
	if c.RateLimitAuthMax < 0 {
		return fmt.Errorf("RATELIMIT_AUTH_MAX must be >= 0; got %d", c.RateLimitAuthMax)
	}
	if c.RateLimitAPIMax < 0 {
		return fmt.Errorf("RATELIMIT_API_MAX must be >= 0; got %d", c.RateLimitAPIMax)
	}
	if c.RateLimitSweepInterval <= 0 {
		return fmt.Errorf("RATELIMIT_SWEEP_INTERVAL must be > 0; got %s", c.RateLimitSweepInterval)
	}

	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATELIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATELIMIT_BACKEND must be memory or redis; got %q", c.RateLimitBackend)
	}

	for _, entry := range c.RateLimitAllowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("RATELIMIT_ALLOWLIST: invalid CIDR %q: %w", entry, err)
			}
		} else if net.ParseIP(entry) == nil {
			return fmt.Errorf("RATELIMIT_ALLOWLIST: invalid IP address %q", entry)
		}
	}

	if c.AuditWorkers < 1 || c.AuditWorkers > 64 {
		return fmt.Errorf("AUDIT_WORKERS must be 1–64; got %d", c.AuditWorkers)
	}
	if c.AuditQueueDepth < 1 {
		return fmt.Errorf("AUDIT_QUEUE_DEPTH must be >= 1; got %d", c.AuditQueueDepth)
	}
	if c.AuditMaxRetries < 0 {
		return fmt.Errorf("AUDIT_MAX_RETRIES must be >= 0; got %d", c.AuditMaxRetries)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// fileSecretKeys may be supplied as KEY_FILE pointing at a mounted secret.
var fileSecretKeys = []string{
	"jwt_secret",
	"redis_password",
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
