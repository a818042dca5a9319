package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateLimitConfig holds rate limiting configuration per endpoint type.
type RateLimitConfig struct {
	Enabled bool

	// Exchange covers the selection endpoints (role/firm).
	ExchangeRequestsPerMinute int
	// Switch covers the runtime account switch.
	SwitchRequestsPerMinute int
	// Read covers context and membership reads.
	ReadRequestsPerMinute int
}

// SecurityHeadersConfig holds security header configuration.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
}

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Upstream API
	BackendBaseURL string
	BackendTimeout time.Duration

	// Database (durable credential scope; in-memory when unset)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (ephemeral credential scope; in-memory when unset)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	// SealKey encrypts durable values at rest; 64-char hex, optional.
	SealKey string

	// SwitchRedirectDelay is the pause before the post-switch redirect
	// callback fires.
	SwitchRedirectDelay time.Duration

	MaxRequestBodySize int64
	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Upstream
		BackendBaseURL: getEnv("BACKEND_BASE_URL", ""),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),

		// Database (optional)
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "identityctx"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis (optional)
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SessionTTL:    getEnvDuration("SESSION_TTL", 12*time.Hour),

		SealKey: getEnv("SEAL_KEY", ""),

		SwitchRedirectDelay: getEnvDuration("SWITCH_REDIRECT_DELAY", 500*time.Millisecond),

		MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),

		RateLimit: RateLimitConfig{
			Enabled:                   getEnvBool("RATE_LIMIT_ENABLED", true),
			ExchangeRequestsPerMinute: getEnvInt("RATE_LIMIT_EXCHANGE_PER_MINUTE", 10),
			SwitchRequestsPerMinute:   getEnvInt("RATE_LIMIT_SWITCH_PER_MINUTE", 6),
			ReadRequestsPerMinute:     getEnvInt("RATE_LIMIT_READ_PER_MINUTE", 120),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "1; mode=block"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},
	}

	// Validate required fields
	if cfg.BackendBaseURL == "" {
		return nil, fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if cfg.SealKey != "" && len(cfg.SealKey) != 64 {
		return nil, fmt.Errorf("SEAL_KEY must be 64-char hex (32 bytes)")
	}

	return cfg, nil
}

// HasDatabase returns true if a Postgres durable scope is configured.
func (c *Config) HasDatabase() bool {
	return c.DBHost != ""
}

// HasRedis returns true if a Redis ephemeral scope is configured.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// HasSealKey returns true if durable values should be encrypted at rest.
func (c *Config) HasSealKey() bool {
	return c.SealKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
