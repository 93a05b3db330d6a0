package agent

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

// SQLiteRepository implements Repository using database/sql over SQLite. Capability sets have no native array type in
// SQLite, so they're stored as a comma-joined TEXT column and split back out on scan.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a new SQLite-backed agent connection repository.
func NewSQLiteRepository(db *sql.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, log: logger}
}

const selectColumns = `id, user_id, framework, label, description, capabilities, public_key, public_key_alg,
	routing_priority, callback_url, callback_secret, status, last_seen, created_at, updated_at`

// Register inserts a new agent connection, or upserts metadata (and optionally the callback secret) onto the
// existing row for the same (userID, framework, label) triple.
func (r *SQLiteRepository) Register(ctx context.Context, p RegisterParams) (*Connection, bool, error) {
	existing, err := r.getByTriple(ctx, p.UserID, p.Framework, p.Label)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	caps := strings.Join(p.Capabilities, ",")

	if existing == nil {
		id := uuid.New()
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO agent_connections (
				id, user_id, framework, label, description, capabilities, public_key, public_key_alg,
				routing_priority, callback_url, callback_secret, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), p.UserID.String(), p.Framework, p.Label, p.Description, caps, p.PublicKey, p.PublicKeyAlg,
			p.RoutingPriority, p.CallbackURL, p.CallbackSecret, StatusActive,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			if sqlitestore.IsUniqueViolation(err) {
				existing, getErr := r.getByTriple(ctx, p.UserID, p.Framework, p.Label)
				if getErr != nil {
					return nil, false, getErr
				}
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("insert agent connection: %w", err)
		}
		created, err := r.GetByID(ctx, id)
		return created, true, err
	}

	secret := existing.CallbackSecret
	if p.RotateSecret && p.CallbackSecret != "" {
		secret = p.CallbackSecret
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE agent_connections SET
			description = ?, capabilities = ?, public_key = ?, public_key_alg = ?, routing_priority = ?,
			callback_url = ?, callback_secret = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		p.Description, caps, p.PublicKey, p.PublicKeyAlg, p.RoutingPriority, p.CallbackURL, secret, StatusActive,
		now.Format(time.RFC3339Nano), existing.ID.String())
	if err != nil {
		return nil, false, fmt.Errorf("upsert agent connection: %w", err)
	}

	updated, err := r.GetByID(ctx, existing.ID)
	return updated, false, err
}

// List returns all connections owned by userID, newest first.
func (r *SQLiteRepository) List(ctx context.Context, userID uuid.UUID) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM agent_connections WHERE user_id = ? ORDER BY created_at DESC", userID.String())
	if err != nil {
		return nil, fmt.Errorf("query agent connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// ListActiveByUser returns active connections for userID ordered by routing priority descending, then creation time
// (stable ordering among equal priorities, per the router's connection-selection contract).
func (r *SQLiteRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+selectColumns+` FROM agent_connections
		 WHERE user_id = ? AND status = ?
		 ORDER BY routing_priority DESC, created_at ASC`, userID.String(), StatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active agent connections: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// GetByID returns a single connection by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM agent_connections WHERE id = ?", id.String())
	return scanConnection(row)
}

// Delete removes a connection owned by userID. Returns ErrNotFound if no such row exists.
func (r *SQLiteRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM agent_connections WHERE id = ? AND user_id = ?", id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("delete agent connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch stamps last_seen with the current time, used by the ping endpoint.
func (r *SQLiteRepository) Touch(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx, "UPDATE agent_connections SET last_seen = ? WHERE id = ?", now, id.String())
	if err != nil {
		return fmt.Errorf("touch agent connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) getByTriple(ctx context.Context, userID uuid.UUID, framework, label string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM agent_connections WHERE user_id = ? AND framework = ? AND label = ?",
		userID.String(), framework, label)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		c           Connection
		idStr       string
		userIDStr   string
		description sql.NullString
		caps        string
		lastSeen    sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&idStr, &userIDStr, &c.Framework, &c.Label, &description, &caps, &c.PublicKey, &c.PublicKeyAlg,
		&c.RoutingPriority, &c.CallbackURL, &c.CallbackSecret, &c.Status, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent connection: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection id: %w", err)
	}
	c.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if description.Valid {
		c.Description = &description.String
	}
	if caps != "" {
		c.Capabilities = strings.Split(caps, ",")
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		c.LastSeen = &t
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

func scanConnections(rows *sql.Rows) ([]Connection, error) {
	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent connections: %w", err)
	}
	return out, nil
}
