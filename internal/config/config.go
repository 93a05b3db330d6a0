// Package config loads registry configuration from environment variables, matching the teacher's accumulating-parser
// pattern in internal/config/config.go: every invalid value is collected and reported together via errors.Join rather
// than failing fast on the first bad variable.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	ServerPort int
	ServerEnv  string // "development" or "production"

	// Database
	DatabasePath string

	// Valkey (optional; nil client degrades notifications to a no-op)
	ValkeyURL string

	// Argon2 API-key secret hashing
	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32

	// HMAC key for tombstones, callback signature test vectors, and other identifier hashing.
	ServerSecret string // hex-encoded 32-byte key

	// Policy Engine
	TrustedMode        bool
	LLMEvaluatorTimeout time.Duration

	// Router / message limits
	MaxPayloadBytes int

	// Delivery
	CallbackTimeout           time.Duration
	MaxRetries                int
	RetryBaseDelay            time.Duration
	RetryPollInterval         time.Duration
	AllowPrivateCallbackHosts bool // self-hosted mode: disables the SSRF host check

	// Rate limiting
	RateLimitPerMinute int

	// CORS
	CORSAllowOrigins string
}

// Load reads configuration from environment variables. It returns an error if any variable is set but cannot be
// parsed, or if required security values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerPort: p.int("SERVER_PORT", 8080),
		ServerEnv:  envStr("SERVER_ENV", "production"),

		DatabasePath: envStr("DATABASE_PATH", "./mahilo.db"),

		ValkeyURL: envStr("VALKEY_URL", ""),

		Argon2Memory:      p.uint32("ARGON2_MEMORY", 65536),
		Argon2Iterations:  p.uint32("ARGON2_ITERATIONS", 3),
		Argon2Parallelism: p.uint8("ARGON2_PARALLELISM", 2),
		Argon2SaltLength:  p.uint32("ARGON2_SALT_LENGTH", 16),
		Argon2KeyLength:   p.uint32("ARGON2_KEY_LENGTH", 32),

		ServerSecret: envStr("SERVER_SECRET", ""),

		TrustedMode:         p.bool("TRUSTED_MODE", true),
		LLMEvaluatorTimeout: p.duration("LLM_EVALUATOR_TIMEOUT", 5*time.Second),

		MaxPayloadBytes: p.int("MAX_PAYLOAD_BYTES", 32*1024),

		CallbackTimeout:           p.duration("CALLBACK_TIMEOUT", 30*time.Second),
		MaxRetries:                p.int("MAX_RETRIES", 5),
		RetryBaseDelay:            p.duration("RETRY_BASE_DELAY", 1*time.Second),
		RetryPollInterval:         p.duration("RETRY_POLL_INTERVAL", 2*time.Second),
		AllowPrivateCallbackHosts: p.bool("ALLOW_PRIVATE_CALLBACK_HOSTS", false),

		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 100),

		CORSAllowOrigins: envStr("CORS_ALLOW_ORIGINS", "*"),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if cfg.IsDevelopment() && cfg.ServerSecret == "" {
		// Development convenience only: a fixed all-zero key so the server boots without extra setup. Never used
		// when ServerEnv is "production".
		cfg.ServerSecret = hex.EncodeToString(make([]byte, 32))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

// ValkeyConfigured returns true when a Valkey URL is set, indicating notifications should actually publish.
func (c *Config) ValkeyConfigured() bool {
	return c.ValkeyURL != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535"))
	}

	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("DATABASE_PATH must not be empty"))
	}

	if c.Argon2Memory == 0 {
		errs = append(errs, fmt.Errorf("ARGON2_MEMORY must be greater than 0"))
	}
	if c.Argon2Iterations == 0 {
		errs = append(errs, fmt.Errorf("ARGON2_ITERATIONS must be greater than 0"))
	}
	if c.Argon2Parallelism == 0 {
		errs = append(errs, fmt.Errorf("ARGON2_PARALLELISM must be greater than 0"))
	}

	if c.ServerSecret == "" {
		errs = append(errs, fmt.Errorf("SERVER_SECRET is required"))
	} else {
		b, err := hex.DecodeString(c.ServerSecret)
		if err != nil || len(b) != 32 {
			errs = append(errs, fmt.Errorf("SERVER_SECRET must be exactly 64 hex characters (32 bytes)"))
		}
	}

	if c.MaxPayloadBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_PAYLOAD_BYTES must be at least 1"))
	}

	if c.CallbackTimeout < time.Second {
		errs = append(errs, fmt.Errorf("CALLBACK_TIMEOUT must be at least 1s"))
	}
	if c.LLMEvaluatorTimeout < time.Second {
		errs = append(errs, fmt.Errorf("LLM_EVALUATOR_TIMEOUT must be at least 1s"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must not be negative"))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_BASE_DELAY must be greater than 0"))
	}
	if c.RetryPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_POLL_INTERVAL must be greater than 0"))
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) uint32(key string, fallback uint32) uint32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected unsigned 32-bit integer)", key, v))
		return fallback
	}
	return uint32(n)
}

func (p *parser) uint8(key string, fallback uint8) uint8 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected unsigned 8-bit integer)", key, v))
		return fallback
	}
	return uint8(n)
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"30s\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
