package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore"
)

// SQLiteRoleRepository implements RoleRepository over database/sql.
type SQLiteRoleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRoleRepository creates a new SQLite-backed role repository.
func NewSQLiteRoleRepository(db *sql.DB, logger zerolog.Logger) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db, log: logger}
}

// SeedSystemRoles idempotently inserts the registry's system roles (user_id NULL). Safe to call on every boot.
func (r *SQLiteRoleRepository) SeedSystemRoles(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, name := range SystemRoles {
		_, err := r.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO roles (id, name, user_id, description, is_system, created_at) VALUES (?, ?, NULL, ?, 1, ?)",
			uuid.New().String(), name, "system role: "+name, now)
		if err != nil {
			return fmt.Errorf("seed system role %q: %w", name, err)
		}
	}
	return nil
}

// Create inserts a user-defined role. The name must already have passed ValidateCustomRoleName.
func (r *SQLiteRoleRepository) Create(ctx context.Context, ownerID uuid.UUID, name, description string) (*Role, error) {
	id := uuid.New()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO roles (id, name, user_id, description, is_system, created_at) VALUES (?, ?, ?, ?, 0, ?)",
		id.String(), name, ownerID.String(), description, now.Format(time.RFC3339Nano))
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			return nil, ErrRoleNameTaken
		}
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return &Role{ID: id, Name: name, UserID: &ownerID, Description: description, CreatedAt: now}, nil
}

// ListSystem returns the seeded system roles.
func (r *SQLiteRoleRepository) ListSystem(ctx context.Context) ([]Role, error) {
	return r.query(ctx, "SELECT id, name, user_id, description, is_system, created_at FROM roles WHERE is_system = 1 ORDER BY name")
}

// ListCustom returns ownerID's user-defined roles.
func (r *SQLiteRoleRepository) ListCustom(ctx context.Context, ownerID uuid.UUID) ([]Role, error) {
	return r.query(ctx,
		"SELECT id, name, user_id, description, is_system, created_at FROM roles WHERE user_id = ? ORDER BY name",
		ownerID.String())
}

// IsValidForOwner reports whether name is usable in a role assignment by ownerID: a system role, or one of ownerID's
// own custom roles.
func (r *SQLiteRoleRepository) IsValidForOwner(ctx context.Context, ownerID uuid.UUID, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM roles WHERE name = ? AND (is_system = 1 OR user_id = ?))",
		name, ownerID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role validity: %w", err)
	}
	return exists, nil
}

func (r *SQLiteRoleRepository) query(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var (
			role      Role
			idStr     string
			userID    sql.NullString
			isSystem  int
			createdAt string
		)
		if err := rows.Scan(&idStr, &role.Name, &userID, &role.Description, &isSystem, &createdAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if role.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse role id: %w", err)
		}
		if userID.Valid {
			u, err := uuid.Parse(userID.String)
			if err != nil {
				return nil, fmt.Errorf("parse role user id: %w", err)
			}
			role.UserID = &u
		}
		role.IsSystem = isSystem != 0
		if role.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse role created_at: %w", err)
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}
