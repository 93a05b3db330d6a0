package policy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const selectColumns = "id, user_id, scope, target_id, policy_type, policy_content, priority, enabled, created_at, updated_at"

// Repository is the data-access contract for policies.
type Repository interface {
	Create(ctx context.Context, p CreateParams) (*Policy, error)
	Update(ctx context.Context, id uuid.UUID, p CreateParams) (*Policy, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Policy, error)

	// ScopeFilterForUser returns the enabled policies applicable to a user-targeted send by senderID: global scope,
	// user scope targeting recipientID, or role scope targeting one of recipientRoles. Ordered priority DESC.
	ScopeFilterForUser(ctx context.Context, senderID uuid.UUID, recipientID string, recipientRoles []string) ([]Policy, error)
	// ScopeFilterForGroup returns the enabled policies applicable to a group-targeted send by senderID: global scope,
	// or group scope targeting groupID. Ordered priority DESC.
	ScopeFilterForGroup(ctx context.Context, senderID uuid.UUID, groupID string) ([]Policy, error)
}

// SQLiteRepository implements Repository over database/sql.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a new SQLite-backed policy repository.
func NewSQLiteRepository(db *sql.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, log: logger}
}

// Create inserts a validated policy.
func (r *SQLiteRepository) Create(ctx context.Context, p CreateParams) (*Policy, error) {
	id := uuid.New()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO policies (id, user_id, scope, target_id, policy_type, policy_content, priority, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), p.OwnerID.String(), p.Scope, p.TargetID, p.PolicyType, p.PolicyContent, p.Priority,
		boolToInt(p.Enabled), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert policy: %w", err)
	}
	return &Policy{
		ID: id, UserID: p.OwnerID, Scope: p.Scope, TargetID: p.TargetID, PolicyType: p.PolicyType,
		PolicyContent: p.PolicyContent, Priority: p.Priority, Enabled: p.Enabled, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Update overwrites an existing policy's mutable fields.
func (r *SQLiteRepository) Update(ctx context.Context, id uuid.UUID, p CreateParams) (*Policy, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE policies SET scope=?, target_id=?, policy_type=?, policy_content=?, priority=?, enabled=?, updated_at=?
		 WHERE id=?`,
		p.Scope, p.TargetID, p.PolicyType, p.PolicyContent, p.Priority, boolToInt(p.Enabled),
		now.Format(time.RFC3339Nano), id.String())
	if err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes a policy by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID fetches a single policy.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM policies WHERE id = ?", id.String())
	return scanPolicy(row)
}

// ListForOwner returns every policy owned by ownerID, newest first.
func (r *SQLiteRepository) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM policies WHERE user_id = ? ORDER BY created_at DESC", ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// ScopeFilterForUser implements the scope filter in the Policy Engine's funnel for user-targeted sends.
func (r *SQLiteRepository) ScopeFilterForUser(ctx context.Context, senderID uuid.UUID, recipientID string, recipientRoles []string) ([]Policy, error) {
	args := []any{senderID.String(), ScopeGlobal, ScopeUser, recipientID, ScopeRole}
	placeholders := ""
	for i, role := range recipientRoles {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, role)
	}

	query := `SELECT ` + selectColumns + ` FROM policies
		WHERE user_id = ? AND enabled = 1
		AND (scope = ? OR (scope = ? AND target_id = ?)`
	if placeholders != "" {
		query += ` OR (scope = ? AND target_id IN (` + placeholders + `))`
	} else {
		query += ` OR 0`
		args = args[:len(args)-1] // drop the unused trailing ScopeRole placeholder
	}
	query += `) ORDER BY priority DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scope filter for user: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// ScopeFilterForGroup implements the scope filter in the Policy Engine's funnel for group-targeted sends. Role-scope
// policies are never consulted for group sends.
func (r *SQLiteRepository) ScopeFilterForGroup(ctx context.Context, senderID uuid.UUID, groupID string) ([]Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM policies
		 WHERE user_id = ? AND enabled = 1 AND (scope = ? OR (scope = ? AND target_id = ?))
		 ORDER BY priority DESC`,
		senderID.String(), ScopeGlobal, ScopeGroup, groupID)
	if err != nil {
		return nil, fmt.Errorf("scope filter for group: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var (
		p         Policy
		idStr     string
		userIDStr string
		targetID  sql.NullString
		enabled   int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&idStr, &userIDStr, &p.Scope, &targetID, &p.PolicyType, &p.PolicyContent, &p.Priority,
		&enabled, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse policy id: %w", err)
	}
	if p.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("parse policy user id: %w", err)
	}
	if targetID.Valid {
		p.TargetID = &targetID.String
	}
	p.Enabled = enabled != 0
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse policy created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse policy updated_at: %w", err)
	}
	return &p, nil
}

func scanPolicies(rows *sql.Rows) ([]Policy, error) {
	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}
