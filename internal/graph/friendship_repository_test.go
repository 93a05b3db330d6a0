package graph_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func newTestUser(t *testing.T, users *user.SQLiteRepository, username string) uuid.UUID {
	t.Helper()
	u, err := users.Create(context.Background(), user.CreateParams{Username: username, APIKeyHash: "h", APIKeyID: username + "-key"})
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return u.ID
}

func TestRequest_selfRejected(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteFriendshipRepository(db, zerolog.Nop())
	alice := newTestUser(t, users, "alice")

	if _, err := repo.Request(context.Background(), alice, alice); err != graph.ErrSelfRequest {
		t.Errorf("err = %v, want ErrSelfRequest", err)
	}
}

func TestRequest_acceptAndAreFriends(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteFriendshipRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")
	bob := newTestUser(t, users, "bob")

	f, err := repo.Request(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if f.Status != graph.FriendshipPending {
		t.Errorf("status = %q, want pending", f.Status)
	}

	accepted, err := repo.Accept(ctx, f.ID, bob)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if accepted.Status != graph.FriendshipAccepted {
		t.Errorf("status = %q, want accepted", accepted.Status)
	}

	ok, err := repo.AreFriends(ctx, alice, bob)
	if err != nil {
		t.Fatalf("AreFriends() error = %v", err)
	}
	if !ok {
		t.Error("expected AreFriends to be true after acceptance")
	}
}

func TestRequest_reverseAutoAccepts(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteFriendshipRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")
	bob := newTestUser(t, users, "bob")

	if _, err := repo.Request(ctx, bob, alice); err != nil {
		t.Fatalf("bob->alice request: %v", err)
	}

	f, err := repo.Request(ctx, alice, bob)
	if err != nil {
		t.Fatalf("alice->bob request: %v", err)
	}
	if f.Status != graph.FriendshipAccepted {
		t.Errorf("status = %q, want accepted (auto-accept on reverse pending)", f.Status)
	}

	rows, err := repo.ListForUser(ctx, alice, "")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one friendship row, got %d", len(rows))
	}
}

func TestAccept_onlyAddressee(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteFriendshipRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")
	bob := newTestUser(t, users, "bob")

	f, err := repo.Request(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if _, err := repo.Accept(ctx, f.ID, alice); err != graph.ErrForbidden {
		t.Errorf("requester accepting own request: err = %v, want ErrForbidden", err)
	}
}

func TestAssignAndRemoveRole(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteFriendshipRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")
	bob := newTestUser(t, users, "bob")

	f, err := repo.Request(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, err := repo.Accept(ctx, f.ID, bob); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if err := repo.AssignRole(ctx, f.ID, "close_friends"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	// Idempotent re-assignment should not error.
	if err := repo.AssignRole(ctx, f.ID, "close_friends"); err != nil {
		t.Fatalf("AssignRole() (repeat) error = %v", err)
	}

	roles, err := repo.RolesForFriendOf(ctx, alice, bob)
	if err != nil {
		t.Fatalf("RolesForFriendOf() error = %v", err)
	}
	if len(roles) != 1 || roles[0] != "close_friends" {
		t.Fatalf("roles = %v, want [close_friends]", roles)
	}

	if err := repo.RemoveRole(ctx, f.ID, "close_friends"); err != nil {
		t.Fatalf("RemoveRole() error = %v", err)
	}
	if err := repo.RemoveRole(ctx, f.ID, "close_friends"); err != graph.ErrNotFound {
		t.Errorf("RemoveRole() (already removed): err = %v, want ErrNotFound", err)
	}
}
