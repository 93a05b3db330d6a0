package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore"
)

const selectColumns = `id, username, display_name, api_key_hash, api_key_id, twitter_handle, twitter_verified,
created_at, deleted_at`

// SQLiteRepository implements Repository over the shared SQLite database.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a new SQLite-backed user repository.
func NewSQLiteRepository(db *sql.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, log: logger}
}

// Create inserts a new user and its default preferences row.
func (r *SQLiteRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create user tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Warn().Err(err).Msg("tx rollback failed")
		}
	}()

	id := uuid.New()
	now := time.Now().UTC()
	username := strings.ToLower(params.Username)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, api_key_hash, api_key_id, twitter_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id.String(), username, params.DisplayName, params.APIKeyHash, params.APIKeyID, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id) VALUES (?)`, id.String())
	if err != nil {
		return nil, fmt.Errorf("insert default preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create user tx: %w", err)
	}

	return &User{
		ID:          id,
		Username:    username,
		DisplayName: params.DisplayName,
		APIKeyHash:  params.APIKeyHash,
		APIKeyID:    params.APIKeyID,
		CreatedAt:   now,
	}, nil
}

// GetByID returns the user with the given ID, excluding soft-deleted accounts.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id.String())
	return scanUser(row)
}

// GetByUsername returns the user with the given username (case-insensitive), excluding soft-deleted accounts.
func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE username = ? COLLATE NOCASE AND deleted_at IS NULL`, username)
	return scanUser(row)
}

// GetByAPIKeyID returns the user owning the given API key ID, the indexed lookup column used by Identity.
func (r *SQLiteRepository) GetByAPIKeyID(ctx context.Context, apiKeyID string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM users WHERE api_key_id = ? AND deleted_at IS NULL`, apiKeyID)
	return scanUser(row)
}

// RotateAPIKey atomically replaces a user's API key hash and key ID.
func (r *SQLiteRepository) RotateAPIKey(ctx context.Context, id uuid.UUID, hash, keyID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET api_key_hash = ?, api_key_id = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, keyID, id.String())
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTwitterVerified records a verified Twitter handle for the user.
func (r *SQLiteRepository) MarkTwitterVerified(ctx context.Context, id uuid.UUID, handle string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET twitter_handle = ?, twitter_verified = 1 WHERE id = ? AND deleted_at IS NULL`,
		handle, id.String())
	if err != nil {
		return fmt.Errorf("mark twitter verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark twitter verified rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPreferences returns the user's notification and default-LLM preferences.
func (r *SQLiteRepository) GetPreferences(ctx context.Context, id uuid.UUID) (*Preferences, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, notify_message_received, notify_delivery_status, notify_friend_request, notify_group_invite,
		        default_llm_prompt
		 FROM user_preferences WHERE user_id = ?`, id.String())

	var p Preferences
	var userID string
	if err := row.Scan(&userID, &p.NotifyMessageReceived, &p.NotifyDeliveryStatus, &p.NotifyFriendRequest,
		&p.NotifyGroupInvite, &p.DefaultLLMPrompt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse preferences user id: %w", err)
	}
	p.UserID = parsed
	return &p, nil
}

// UpdatePreferences overwrites the user's preferences row.
func (r *SQLiteRepository) UpdatePreferences(ctx context.Context, prefs Preferences) (*Preferences, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_preferences
		 SET notify_message_received = ?, notify_delivery_status = ?, notify_friend_request = ?,
		     notify_group_invite = ?, default_llm_prompt = ?
		 WHERE user_id = ?`,
		prefs.NotifyMessageReceived, prefs.NotifyDeliveryStatus, prefs.NotifyFriendRequest, prefs.NotifyGroupInvite,
		prefs.DefaultLLMPrompt, prefs.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return r.GetPreferences(ctx, prefs.UserID)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var id string
	var createdAt string
	var deletedAt *string

	if err := row.Scan(&id, &u.Username, &u.DisplayName, &u.APIKeyHash, &u.APIKeyID, &u.TwitterHandle,
		&u.TwitterVerified, &createdAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.ID = parsedID

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t

	if deletedAt != nil {
		dt, err := time.Parse(time.RFC3339Nano, *deletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		u.DeletedAt = &dt
	}

	return &u, nil
}
