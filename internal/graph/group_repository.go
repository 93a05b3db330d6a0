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

// SQLiteGroupRepository implements GroupRepository over database/sql.
type SQLiteGroupRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteGroupRepository creates a new SQLite-backed group repository.
func NewSQLiteGroupRepository(db *sql.DB, logger zerolog.Logger) *SQLiteGroupRepository {
	return &SQLiteGroupRepository{db: db, log: logger}
}

// Create inserts a new group and, atomically, an active owner membership for ownerID.
func (r *SQLiteGroupRepository) Create(ctx context.Context, ownerID uuid.UUID, name string, description *string, inviteOnly bool) (*Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO groups (id, name, description, owner_user_id, invite_only) VALUES (?, ?, ?, ?, ?)",
		id.String(), name, description, ownerID.String(), boolToInt(inviteOnly))
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			return nil, ErrGroupNameTaken
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO group_memberships (group_id, user_id, role, status, created_at) VALUES (?, ?, ?, ?, ?)",
		id.String(), ownerID.String(), MemberRoleOwner, MembershipActive, now)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create group tx: %w", err)
	}

	return &Group{ID: id, Name: name, Description: description, OwnerUserID: ownerID, InviteOnly: inviteOnly}, nil
}

// GetByID returns a group by id.
func (r *SQLiteGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*Group, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, owner_user_id, invite_only FROM groups WHERE id = ?", id.String())
	return scanGroup(row)
}

// ListForUser returns groups where userID has any membership row (active, invited, or pending).
func (r *SQLiteGroupRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.owner_user_id, g.invite_only
		FROM groups g
		JOIN group_memberships gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.name`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list groups for user: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Delete removes a group; memberships cascade through the database.
func (r *SQLiteGroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
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

// Invite creates an "invited" membership row for userID. Used by invite-only groups; Join then promotes it to active.
func (r *SQLiteGroupRepository) Invite(ctx context.Context, groupID, userID, invitedBy uuid.UUID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO group_memberships (group_id, user_id, role, status, invited_by_user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		groupID.String(), userID.String(), MemberRoleMember, MembershipInvited, invitedBy.String(), now)
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// Join activates membership for userID: a public group accepts a direct join (creating the row if absent); an
// invite-only group requires an existing "invited" row, which is promoted to active.
func (r *SQLiteGroupRepository) Join(ctx context.Context, groupID, userID uuid.UUID) (*GroupMembership, error) {
	group, err := r.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	existing, err := r.GetMembership(ctx, groupID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.Status == MembershipActive {
			return nil, ErrAlreadyMember
		}
		if existing.Status == MembershipInvited {
			_, err := r.db.ExecContext(ctx,
				"UPDATE group_memberships SET status = ? WHERE group_id = ? AND user_id = ?",
				MembershipActive, groupID.String(), userID.String())
			if err != nil {
				return nil, fmt.Errorf("activate invited membership: %w", err)
			}
			return r.GetMembership(ctx, groupID, userID)
		}
	}

	if group.InviteOnly {
		return nil, ErrInviteRequired
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO group_memberships (group_id, user_id, role, status, created_at) VALUES (?, ?, ?, ?, ?)",
		groupID.String(), userID.String(), MemberRoleMember, MembershipActive, now)
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("insert join membership: %w", err)
	}
	return r.GetMembership(ctx, groupID, userID)
}

// Leave removes userID's active membership. If userID is the owner and other active members remain, the leave is
// rejected — ownership must be transferred first (explicit endpoint). If the owner is the sole remaining active
// member, the group and all memberships are deleted instead.
func (r *SQLiteGroupRepository) Leave(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	membership, err := r.GetMembership(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if membership.Status != MembershipActive {
		return false, ErrNotMember
	}

	if membership.Role == MemberRoleOwner {
		active, err := r.ActiveMembers(ctx, groupID)
		if err != nil {
			return false, err
		}
		if len(active) > 1 {
			return false, fmt.Errorf("%w: transfer ownership before leaving a group with other active members", ErrNotGroupOwner)
		}
		if err := r.Delete(ctx, groupID); err != nil {
			return false, err
		}
		return true, nil
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM group_memberships WHERE group_id = ? AND user_id = ?", groupID.String(), userID.String())
	if err != nil {
		return false, fmt.Errorf("leave group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// Transfer moves ownership from currentOwnerID to newOwnerID, an existing active member. The prior owner becomes a
// plain member.
func (r *SQLiteGroupRepository) Transfer(ctx context.Context, groupID, currentOwnerID, newOwnerID uuid.UUID) error {
	group, err := r.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerUserID != currentOwnerID {
		return ErrNotGroupOwner
	}

	target, err := r.GetMembership(ctx, groupID, newOwnerID)
	if err != nil {
		return err
	}
	if target.Status != MembershipActive {
		return ErrTargetNotActive
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE groups SET owner_user_id = ? WHERE id = ?",
		newOwnerID.String(), groupID.String()); err != nil {
		return fmt.Errorf("update group owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE group_memberships SET role = ? WHERE group_id = ? AND user_id = ?",
		MemberRoleOwner, groupID.String(), newOwnerID.String()); err != nil {
		return fmt.Errorf("promote new owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE group_memberships SET role = ? WHERE group_id = ? AND user_id = ?",
		MemberRoleMember, groupID.String(), currentOwnerID.String()); err != nil {
		return fmt.Errorf("demote prior owner: %w", err)
	}

	return tx.Commit()
}

// Members returns every membership row for groupID joined with the member's public user fields.
func (r *SQLiteGroupRepository) Members(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT gm.group_id, gm.user_id, gm.role, gm.status, gm.invited_by_user_id, gm.created_at,
		       u.username, u.display_name
		FROM group_memberships gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY gm.created_at`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var out []GroupMember
	for rows.Next() {
		gm, err := scanGroupMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gm)
	}
	return out, rows.Err()
}

// ActiveMembers returns every active membership row for groupID, without the user-profile join.
func (r *SQLiteGroupRepository) ActiveMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMembership, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT group_id, user_id, role, status, invited_by_user_id, created_at FROM group_memberships WHERE group_id = ? AND status = ?",
		groupID.String(), MembershipActive)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	var out []GroupMembership
	for rows.Next() {
		m, err := scanGroupMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMembership returns the membership row for (groupID, userID), in any status.
func (r *SQLiteGroupRepository) GetMembership(ctx context.Context, groupID, userID uuid.UUID) (*GroupMembership, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT group_id, user_id, role, status, invited_by_user_id, created_at FROM group_memberships WHERE group_id = ? AND user_id = ?",
		groupID.String(), userID.String())
	return scanGroupMembership(row)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanGroupMembership(row interface{ Scan(dest ...any) error }) (*GroupMembership, error) {
	var (
		gm          GroupMembership
		groupIDStr  string
		userIDStr   string
		invitedBy   sql.NullString
		createdAt   string
	)
	err := row.Scan(&groupIDStr, &userIDStr, &gm.Role, &gm.Status, &invitedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group membership: %w", err)
	}
	if gm.GroupID, err = uuid.Parse(groupIDStr); err != nil {
		return nil, fmt.Errorf("parse group id: %w", err)
	}
	if gm.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if invitedBy.Valid {
		u, err := uuid.Parse(invitedBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse invited_by_user_id: %w", err)
		}
		gm.InvitedByUserID = &u
	}
	if gm.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &gm, nil
}

func scanGroupMember(row interface{ Scan(dest ...any) error }) (*GroupMember, error) {
	var (
		gm          GroupMembership
		groupIDStr  string
		userIDStr   string
		invitedBy   sql.NullString
		createdAt   string
		username    string
		displayName sql.NullString
	)
	err := row.Scan(&groupIDStr, &userIDStr, &gm.Role, &gm.Status, &invitedBy, &createdAt, &username, &displayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group member: %w", err)
	}
	if gm.GroupID, err = uuid.Parse(groupIDStr); err != nil {
		return nil, fmt.Errorf("parse group id: %w", err)
	}
	if gm.UserID, err = uuid.Parse(userIDStr); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if invitedBy.Valid {
		u, err := uuid.Parse(invitedBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse invited_by_user_id: %w", err)
		}
		gm.InvitedByUserID = &u
	}
	if gm.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	member := &GroupMember{GroupMembership: gm, Username: username}
	if displayName.Valid {
		member.DisplayName = &displayName.String
	}
	return member, nil
}

func scanGroup(row interface{ Scan(dest ...any) error }) (*Group, error) {
	var (
		g           Group
		idStr       string
		description sql.NullString
		ownerStr    string
		inviteOnly  int
	)
	err := row.Scan(&idStr, &g.Name, &description, &ownerStr, &inviteOnly)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	if g.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse group id: %w", err)
	}
	if g.OwnerUserID, err = uuid.Parse(ownerStr); err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	if description.Valid {
		g.Description = &description.String
	}
	g.InviteOnly = inviteOnly != 0
	return &g, nil
}
