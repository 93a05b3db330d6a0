// Package identity implements API-key minting and request-to-principal resolution (spec section 4.1). Secret
// verification follows the teacher's Argon2id password pattern in internal/auth/{password,hmac}.go, adapted from
// session passwords to bearer API-key secrets.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/config"
	"github.com/mahilo/registry/internal/user"
)

// keyPrefix identifies Mahilo registry API keys in the shape <prefix>_<keyId>_<secret>.
const keyPrefix = "mahilo"

// secretBytes is the number of random bytes used for the key secret component. 24 bytes hex-encodes to 48
// characters, giving 192 bits of entropy.
const secretBytes = 24

// Sentinel errors for the identity package.
var (
	ErrMissingHeader  = errors.New("missing authorization header")
	ErrMalformedKey   = errors.New("malformed api key")
	ErrUnknownKey     = errors.New("unknown api key")
	ErrSecretMismatch = errors.New("api key secret mismatch")
)

// AuthError wraps the specific identity failure but always renders as the same opaque 401 at the HTTP layer (spec
// section 4.1: "all map to the same opaque 401 UNAUTHORIZED").
type AuthError struct {
	cause error
}

func (e *AuthError) Error() string { return e.cause.Error() }
func (e *AuthError) Unwrap() error { return e.cause }

// Principal identifies the authenticated caller.
type Principal struct {
	UserID   uuid.UUID
	Username string
}

// MintedKey is the plaintext API key material shown to the caller exactly once.
type MintedKey struct {
	APIKey string
	KeyID  string
	Hash   string
}

// Service resolves bearer credentials against the user store.
type Service struct {
	users user.Repository
	cfg   *config.Config
	log   zerolog.Logger
	// dummyHash is a precomputed Argon2id hash verified against on an unknown key-id, keeping lookup timing
	// indistinguishable from a real verification failure.
	dummyHash string
}

// NewService creates a new identity service. It returns an error if the Argon2id configuration is invalid, matching
// the teacher's NewService in internal/auth/service.go.
func NewService(users user.Repository, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	dummy, err := hashSecret("mahilo-dummy-secret", cfg)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{users: users, cfg: cfg, log: logger, dummyHash: dummy}, nil
}

// Mint generates a new API key: a random key-id and secret, Argon2id-hashed for storage.
func (s *Service) Mint() (*MintedKey, error) {
	keyID := uuid.New().String()[:12]

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate api key secret: %w", err)
	}
	secretHex := hex.EncodeToString(secret)

	hash, err := hashSecret(secretHex, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("hash api key secret: %w", err)
	}

	return &MintedKey{
		APIKey: fmt.Sprintf("%s_%s_%s", keyPrefix, keyID, secretHex),
		KeyID:  keyID,
		Hash:   hash,
	}, nil
}

// Resolve extracts the API key from the Authorization header, looks up the owning user by key-id, and verifies the
// secret with a constant-time Argon2id comparison. Every failure mode maps to the same AuthError so the HTTP layer
// can return a uniform 401.
func (s *Service) Resolve(ctx context.Context, authHeader string) (*Principal, error) {
	if authHeader == "" {
		return nil, &AuthError{ErrMissingHeader}
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil, &AuthError{ErrMalformedKey}
	}
	rawKey := strings.TrimPrefix(authHeader, bearerPrefix)

	keyID, secret, err := parseKey(rawKey)
	if err != nil {
		return nil, &AuthError{err}
	}

	u, err := s.users.GetByAPIKeyID(ctx, keyID)
	if err != nil {
		// Run the comparison against the dummy hash anyway so a missing key-id takes the same time as a real
		// mismatch.
		_, _ = argon2id.ComparePasswordAndHash(secret, s.dummyHash)
		return nil, &AuthError{ErrUnknownKey}
	}

	match, err := argon2id.ComparePasswordAndHash(secret, u.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("compare api key hash: %w", err)
	}
	if !match {
		return nil, &AuthError{ErrSecretMismatch}
	}

	return &Principal{UserID: u.ID, Username: u.Username}, nil
}

// VerificationCode deterministically derives a Twitter-verification code for userID from the server secret, the way
// the teacher derives tombstone HMACs from its ServerSecret. Twitter verification itself is an abstract external
// collaborator (spec section 1); the registry only needs a stable code to hand back and later compare.
func (s *Service) VerificationCode(userID uuid.UUID) (string, error) {
	key, err := hex.DecodeString(s.cfg.ServerSecret)
	if err != nil {
		return "", fmt.Errorf("decode server secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(userID.String()))
	return hex.EncodeToString(mac.Sum(nil))[:16], nil
}

func hashSecret(secret string, cfg *config.Config) (string, error) {
	params := &argon2id.Params{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
	}
	return argon2id.CreateHash(secret, params)
}

// parseKey splits a raw api key of the shape <prefix>_<keyId>_<secret>.
func parseKey(raw string) (keyID, secret string, err error) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", ErrMalformedKey
	}
	return parts[1], parts[2], nil
}
