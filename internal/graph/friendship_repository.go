package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore"
)

// SQLiteFriendshipRepository implements FriendshipRepository over database/sql.
type SQLiteFriendshipRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteFriendshipRepository creates a new SQLite-backed friendship repository.
func NewSQLiteFriendshipRepository(db *sql.DB, logger zerolog.Logger) *SQLiteFriendshipRepository {
	return &SQLiteFriendshipRepository{db: db, log: logger}
}

const friendshipColumns = "id, requester_id, addressee_id, status, created_at"

// Request creates a pending friend request from requesterID to addresseeID. If a reverse pending request already
// exists, it auto-accepts instead of creating a second row (spec section 4.2).
func (r *SQLiteFriendshipRepository) Request(ctx context.Context, requesterID, addresseeID uuid.UUID) (*Friendship, error) {
	if requesterID == addresseeID {
		return nil, ErrSelfRequest
	}

	existing, err := r.GetBetween(ctx, requesterID, addresseeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		switch existing.Status {
		case FriendshipAccepted:
			return nil, ErrAlreadyFriends
		case FriendshipBlocked:
			return nil, ErrBlocked
		case FriendshipPending:
			if existing.RequesterID == addresseeID {
				return r.transitionStatus(ctx, existing.ID, FriendshipAccepted)
			}
			return existing, nil
		}
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO friendships (id, requester_id, addressee_id, status, created_at) VALUES (?, ?, ?, ?, ?)",
		id.String(), requesterID.String(), addresseeID.String(), FriendshipPending, now.Format(time.RFC3339Nano))
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			// Lost a race against a concurrent request for the same pair; re-read and reconcile.
			return r.GetBetween(ctx, requesterID, addresseeID)
		}
		return nil, fmt.Errorf("insert friendship: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Accept transitions a pending friendship to accepted. Only the addressee may accept.
func (r *SQLiteFriendshipRepository) Accept(ctx context.Context, id, callerID uuid.UUID) (*Friendship, error) {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.AddresseeID != callerID {
		return nil, ErrForbidden
	}
	if f.Status != FriendshipPending {
		return nil, ErrAlreadyFriends
	}
	return r.transitionStatus(ctx, id, FriendshipAccepted)
}

// Reject deletes a pending friendship. Only the addressee may reject.
func (r *SQLiteFriendshipRepository) Reject(ctx context.Context, id, callerID uuid.UUID) error {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.AddresseeID != callerID {
		return ErrForbidden
	}
	_, err = r.db.ExecContext(ctx, "DELETE FROM friendships WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("reject friendship: %w", err)
	}
	return nil
}

// Block transitions a friendship to blocked. Either party may block.
func (r *SQLiteFriendshipRepository) Block(ctx context.Context, id, callerID uuid.UUID) (*Friendship, error) {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.RequesterID != callerID && f.AddresseeID != callerID {
		return nil, ErrForbidden
	}
	return r.transitionStatus(ctx, id, FriendshipBlocked)
}

// Unfriend deletes an accepted friendship. Either party may unfriend.
func (r *SQLiteFriendshipRepository) Unfriend(ctx context.Context, id, callerID uuid.UUID) error {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.RequesterID != callerID && f.AddresseeID != callerID {
		return ErrForbidden
	}
	_, err = r.db.ExecContext(ctx, "DELETE FROM friendships WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("unfriend: %w", err)
	}
	return nil
}

// GetByID returns a friendship by id.
func (r *SQLiteFriendshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*Friendship, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+friendshipColumns+" FROM friendships WHERE id = ?", id.String())
	return scanFriendship(row)
}

// GetBetween returns the (at most one) friendship row between a and b, in either direction.
func (r *SQLiteFriendshipRepository) GetBetween(ctx context.Context, a, b uuid.UUID) (*Friendship, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+friendshipColumns+` FROM friendships
		 WHERE (requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)`,
		a.String(), b.String(), b.String(), a.String())
	return scanFriendship(row)
}

// ListForUser returns every friendship row involving userID, optionally filtered by status.
func (r *SQLiteFriendshipRepository) ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]Friendship, error) {
	query := "SELECT " + friendshipColumns + " FROM friendships WHERE (requester_id = ? OR addressee_id = ?)"
	args := []any{userID.String(), userID.String()}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list friendships: %w", err)
	}
	defer rows.Close()

	var out []Friendship
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friendships: %w", err)
	}
	return out, nil
}

// AreFriends reports whether an accepted friendship exists between a and b.
func (r *SQLiteFriendshipRepository) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f, err := r.GetBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return f.Status == FriendshipAccepted, nil
}

// AssignRole assigns roleName to the friendship. Idempotent: assigning a role twice is a no-op.
func (r *SQLiteFriendshipRepository) AssignRole(ctx context.Context, friendshipID uuid.UUID, roleName string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO friend_roles (friendship_id, role_name, created_at) VALUES (?, ?, ?)",
		friendshipID.String(), roleName, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("assign friend role: %w", err)
	}
	return nil
}

// RemoveRole removes roleName from the friendship. Returns ErrNotFound if it wasn't assigned.
func (r *SQLiteFriendshipRepository) RemoveRole(ctx context.Context, friendshipID uuid.UUID, roleName string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM friend_roles WHERE friendship_id = ? AND role_name = ?", friendshipID.String(), roleName)
	if err != nil {
		return fmt.Errorf("remove friend role: %w", err)
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

// ListRoles returns the role names assigned to a friendship.
func (r *SQLiteFriendshipRepository) ListRoles(ctx context.Context, friendshipID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT role_name FROM friend_roles WHERE friendship_id = ? ORDER BY role_name", friendshipID.String())
	if err != nil {
		return nil, fmt.Errorf("list friend roles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan friend role: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RolesForFriendOf returns the role names ownerID has assigned to their friendship with friendID. Used by the policy
// engine's role-scoped filter and the history endpoint's reply-policy enrichment.
func (r *SQLiteFriendshipRepository) RolesForFriendOf(ctx context.Context, ownerID, friendID uuid.UUID) ([]string, error) {
	f, err := r.GetBetween(ctx, ownerID, friendID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.ListRoles(ctx, f.ID)
}

func (r *SQLiteFriendshipRepository) transitionStatus(ctx context.Context, id uuid.UUID, status string) (*Friendship, error) {
	_, err := r.db.ExecContext(ctx, "UPDATE friendships SET status = ? WHERE id = ?", status, id.String())
	if err != nil {
		return nil, fmt.Errorf("transition friendship status: %w", err)
	}
	return r.GetByID(ctx, id)
}

func scanFriendship(row interface{ Scan(dest ...any) error }) (*Friendship, error) {
	var (
		f           Friendship
		idStr       string
		requester   string
		addressee   string
		createdAt   string
	)
	err := row.Scan(&idStr, &requester, &addressee, &f.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan friendship: %w", err)
	}
	if f.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse friendship id: %w", err)
	}
	if f.RequesterID, err = uuid.Parse(requester); err != nil {
		return nil, fmt.Errorf("parse requester id: %w", err)
	}
	if f.AddresseeID, err = uuid.Parse(addressee); err != nil {
		return nil, fmt.Errorf("parse addressee id: %w", err)
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &f, nil
}
