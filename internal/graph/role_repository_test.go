package graph_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func TestValidateCustomRoleName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		role    string
		wantErr bool
	}{
		{name: "valid", role: "mentors", wantErr: false},
		{name: "shadows system role", role: "close_friends", wantErr: true},
		{name: "starts with digit", role: "1mentors", wantErr: true},
		{name: "contains dash", role: "my-role", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := graph.ValidateCustomRoleName(tt.role)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCustomRoleName(%q) error = %v, wantErr %v", tt.role, err, tt.wantErr)
			}
		})
	}
}

func TestSeedSystemRoles_idempotent(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	repo := graph.NewSQLiteRoleRepository(db, zerolog.Nop())
	ctx := context.Background()

	if err := repo.SeedSystemRoles(ctx); err != nil {
		t.Fatalf("SeedSystemRoles() error = %v", err)
	}
	if err := repo.SeedSystemRoles(ctx); err != nil {
		t.Fatalf("SeedSystemRoles() (repeat) error = %v", err)
	}

	roles, err := repo.ListSystem(ctx)
	if err != nil {
		t.Fatalf("ListSystem() error = %v", err)
	}
	if len(roles) != len(graph.SystemRoles) {
		t.Errorf("got %d system roles, want %d", len(roles), len(graph.SystemRoles))
	}
}

func TestCreateCustomRole_andIsValidForOwner(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteRoleRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")
	bob := newTestUser(t, users, "bob")

	if err := repo.SeedSystemRoles(ctx); err != nil {
		t.Fatalf("SeedSystemRoles() error = %v", err)
	}

	if _, err := repo.Create(ctx, alice, "mentors", "people who mentor me"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := repo.IsValidForOwner(ctx, alice, "mentors")
	if err != nil || !ok {
		t.Errorf("IsValidForOwner(alice, mentors) = %v, %v, want true, nil", ok, err)
	}
	ok, err = repo.IsValidForOwner(ctx, bob, "mentors")
	if err != nil || ok {
		t.Errorf("IsValidForOwner(bob, mentors) = %v, %v, want false, nil", ok, err)
	}
	ok, err = repo.IsValidForOwner(ctx, bob, "close_friends")
	if err != nil || !ok {
		t.Errorf("IsValidForOwner(bob, close_friends) = %v, %v, want true, nil", ok, err)
	}
}

func TestCreateCustomRole_duplicateName(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := graph.NewSQLiteRoleRepository(db, zerolog.Nop())
	ctx := context.Background()
	alice := newTestUser(t, users, "alice")

	if _, err := repo.Create(ctx, alice, "mentors", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, alice, "mentors", ""); err != graph.ErrRoleNameTaken {
		t.Errorf("err = %v, want ErrRoleNameTaken", err)
	}
}
