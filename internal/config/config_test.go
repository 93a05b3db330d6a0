package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_PORT", "SERVER_ENV", "DATABASE_PATH", "VALKEY_URL",
		"ARGON2_MEMORY", "ARGON2_ITERATIONS", "ARGON2_PARALLELISM", "ARGON2_SALT_LENGTH", "ARGON2_KEY_LENGTH",
		"SERVER_SECRET", "TRUSTED_MODE", "LLM_EVALUATOR_TIMEOUT", "MAX_PAYLOAD_BYTES", "CALLBACK_TIMEOUT",
		"MAX_RETRIES", "RETRY_BASE_DELAY", "RETRY_POLL_INTERVAL", "ALLOW_PRIVATE_CALLBACK_HOSTS",
		"RATE_LIMIT_PER_MINUTE", "CORS_ALLOW_ORIGINS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoad_developmentDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
	if cfg.ServerSecret == "" {
		t.Error("expected a dev ServerSecret to be filled in")
	}
}

func TestLoad_requiresServerSecretInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when SERVER_SECRET is missing in production")
	}
}

func TestLoad_invalidValuesAccumulate(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("MAX_RETRIES", "also-not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid env values")
	}
	msg := err.Error()
	if !contains(msg, "SERVER_PORT") || !contains(msg, "MAX_RETRIES") {
		t.Errorf("expected both invalid keys reported, got: %s", msg)
	}
}

func TestLoad_badServerSecretLength(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("SERVER_SECRET", "deadbeef")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short SERVER_SECRET")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
