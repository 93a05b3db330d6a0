package policy_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/policy"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func newOwner(t *testing.T, users *user.SQLiteRepository, username string) uuid.UUID {
	t.Helper()
	u, err := users.Create(context.Background(), user.CreateParams{Username: username, APIKeyHash: "h", APIKeyID: username + "-key"})
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return u.ID
}

func TestCreateAndGetPolicy(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := policy.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	owner := newOwner(t, users, "alice")

	created, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeGlobal, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{"blockedPatterns":["secret"]}`, Priority: 100, Enabled: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	fetched, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if fetched.Scope != policy.ScopeGlobal || fetched.Priority != 100 {
		t.Errorf("fetched = %+v, want matching scope/priority", fetched)
	}
}

func TestScopeFilterForUser_ordersByPriority(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := policy.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	owner := newOwner(t, users, "alice")
	bob := newOwner(t, users, "bob")
	bobID := bob.String()

	low, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeGlobal, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{}`, Priority: 1, Enabled: true,
	})
	if err != nil {
		t.Fatalf("Create(low) error = %v", err)
	}
	high, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeUser, TargetID: &bobID, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{}`, Priority: 100, Enabled: true,
	})
	if err != nil {
		t.Fatalf("Create(high) error = %v", err)
	}
	// A disabled policy must never surface.
	if _, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeGlobal, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{}`, Priority: 999, Enabled: false,
	}); err != nil {
		t.Fatalf("Create(disabled) error = %v", err)
	}

	got, err := repo.ScopeFilterForUser(ctx, owner, bobID, nil)
	if err != nil {
		t.Fatalf("ScopeFilterForUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d policies, want 2", len(got))
	}
	if got[0].ID != high.ID || got[1].ID != low.ID {
		t.Errorf("got order %v, %v; want high-priority first", got[0].ID, got[1].ID)
	}
}

func TestScopeFilterForGroup_excludesRoleScope(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := policy.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	owner := newOwner(t, users, "alice")
	groupID := uuid.New().String()
	roleTarget := "close_friends"

	if _, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeGroup, TargetID: &groupID, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{}`, Priority: 5, Enabled: true,
	}); err != nil {
		t.Fatalf("Create(group) error = %v", err)
	}
	if _, err := repo.Create(ctx, policy.CreateParams{
		OwnerID: owner, Scope: policy.ScopeRole, TargetID: &roleTarget, PolicyType: policy.TypeHeuristic,
		PolicyContent: `{}`, Priority: 10, Enabled: true,
	}); err != nil {
		t.Fatalf("Create(role) error = %v", err)
	}

	got, err := repo.ScopeFilterForGroup(ctx, owner, groupID)
	if err != nil {
		t.Fatalf("ScopeFilterForGroup() error = %v", err)
	}
	if len(got) != 1 || got[0].Scope != policy.ScopeGroup {
		t.Errorf("got %+v, want exactly the group-scoped policy", got)
	}
}
