package user_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func newRepo(t *testing.T) *user.SQLiteRepository {
	t.Helper()
	db := testdb.Open(t)
	return user.NewSQLiteRepository(db, zerolog.Nop())
}

func TestCreate_andGetByUsername(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	u, err := repo.Create(ctx, user.CreateParams{
		Username:   "Alice",
		APIKeyHash: "hash",
		APIKeyID:   "key-1",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("username not lowercased: got %q", u.Username)
	}

	got, err := repo.GetByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %v, want %v", got.ID, u.ID)
	}
}

func TestCreate_duplicateUsername(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, user.CreateParams{Username: "bob", APIKeyHash: "h1", APIKeyID: "k1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = repo.Create(ctx, user.CreateParams{Username: "Bob", APIKeyHash: "h2", APIKeyID: "k2"})
	if err != user.ErrUsernameTaken {
		t.Errorf("error = %v, want ErrUsernameTaken", err)
	}
}

func TestRotateAPIKey(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	u, err := repo.Create(ctx, user.CreateParams{Username: "carol", APIKeyHash: "h1", APIKeyID: "k1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.RotateAPIKey(ctx, u.ID, "h2", "k2"); err != nil {
		t.Fatalf("RotateAPIKey() error = %v", err)
	}

	if _, err := repo.GetByAPIKeyID(ctx, "k1"); err != user.ErrNotFound {
		t.Errorf("old key id should no longer resolve, got err = %v", err)
	}
	got, err := repo.GetByAPIKeyID(ctx, "k2")
	if err != nil {
		t.Fatalf("GetByAPIKeyID() error = %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %v, want %v", got.ID, u.ID)
	}
}

func TestPreferences_defaultAndUpdate(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	u, err := repo.Create(ctx, user.CreateParams{Username: "dana", APIKeyHash: "h", APIKeyID: "k"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	prefs, err := repo.GetPreferences(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetPreferences() error = %v", err)
	}
	if !prefs.NotifyMessageReceived {
		t.Error("expected notifications enabled by default")
	}

	prefs.NotifyMessageReceived = false
	updated, err := repo.UpdatePreferences(ctx, *prefs)
	if err != nil {
		t.Fatalf("UpdatePreferences() error = %v", err)
	}
	if updated.NotifyMessageReceived {
		t.Error("expected NotifyMessageReceived to be false after update")
	}
}
