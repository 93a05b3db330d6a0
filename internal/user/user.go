// Package user models registered principals: identity rows, their API-key material, and per-user notification
// preferences. HTTP-facing key minting and verification live in internal/identity; this package owns only the
// persisted shape and the validation rules from spec section 4.1.
package user

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the user package.
var (
	ErrNotFound         = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrInvalidUsername  = errors.New("username must be 3-30 characters, letters, digits, and underscores only")
	ErrAlreadyVerified  = errors.New("twitter handle already verified")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

// ValidateUsername checks that a username meets the 3-30 character, alphanumeric-plus-underscore rule from
// spec section 4.1. Callers store the username lowercased; uniqueness is additionally enforced case-insensitively at
// the database layer via COLLATE NOCASE.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// User holds the fields read from the database.
type User struct {
	ID              uuid.UUID
	Username        string
	DisplayName     *string
	APIKeyHash      string
	APIKeyID        string
	TwitterHandle   *string
	TwitterVerified bool
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

// Preferences is the 1:1 UserPreferences row. It is read by the Context and Message APIs but never gates the
// critical send path (spec section 3).
type Preferences struct {
	UserID                 uuid.UUID
	NotifyMessageReceived  bool
	NotifyDeliveryStatus   bool
	NotifyFriendRequest    bool
	NotifyGroupInvite      bool
	DefaultLLMPrompt       *string
}

// CreateParams groups the inputs for registering a new user.
type CreateParams struct {
	Username    string
	DisplayName *string
	APIKeyHash  string
	APIKeyID    string
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByAPIKeyID(ctx context.Context, apiKeyID string) (*User, error)
	RotateAPIKey(ctx context.Context, id uuid.UUID, hash, keyID string) error
	MarkTwitterVerified(ctx context.Context, id uuid.UUID, handle string) error

	GetPreferences(ctx context.Context, id uuid.UUID) (*Preferences, error)
	UpdatePreferences(ctx context.Context, prefs Preferences) (*Preferences, error)
}
