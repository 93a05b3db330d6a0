package agent_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func newUser(t *testing.T, users *user.SQLiteRepository, username string) uuid.UUID {
	t.Helper()
	u, err := users.Create(context.Background(), user.CreateParams{Username: username, APIKeyHash: "h", APIKeyID: username + "-key"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestRegister_createsThenUpserts(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := agent.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()

	userID := newUser(t, users, "bob")

	params := agent.RegisterParams{
		UserID:       userID,
		Framework:    "clawdbot",
		Label:        "default",
		Capabilities: []string{"chat", "code"},
		PublicKey:    "k1",
		PublicKeyAlg: agent.KeyAlgEd25519,
		CallbackURL:  "http://127.0.0.1:9999/inbox",
		CallbackSecret: "secret-1",
	}

	conn, created, err := repo.Register(ctx, params)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !created {
		t.Error("expected created=true on first registration")
	}
	if conn.CallbackSecret != "secret-1" {
		t.Errorf("CallbackSecret = %q, want %q", conn.CallbackSecret, "secret-1")
	}

	params.RoutingPriority = 5
	params.CallbackSecret = "secret-2"
	params.RotateSecret = true
	updated, created, err := repo.Register(ctx, params)
	if err != nil {
		t.Fatalf("Register() (upsert) error = %v", err)
	}
	if created {
		t.Error("expected created=false on re-registration")
	}
	if updated.ID != conn.ID {
		t.Error("re-registration should update the existing row, not create a new one")
	}
	if updated.CallbackSecret != "secret-2" {
		t.Errorf("CallbackSecret not rotated: got %q", updated.CallbackSecret)
	}
	if updated.RoutingPriority != 5 {
		t.Errorf("RoutingPriority = %d, want 5", updated.RoutingPriority)
	}

	all, err := repo.List(ctx, userID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one connection row after upsert, got %d", len(all))
	}
}

func TestListActiveByUser_ordersByPriority(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := agent.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	userID := newUser(t, users, "carol")

	low, _, err := repo.Register(ctx, agent.RegisterParams{
		UserID: userID, Framework: "f", Label: "low", RoutingPriority: 1,
		PublicKey: "k", PublicKeyAlg: agent.KeyAlgEd25519, CallbackURL: "http://127.0.0.1/a", CallbackSecret: "s",
	})
	if err != nil {
		t.Fatalf("register low: %v", err)
	}
	high, _, err := repo.Register(ctx, agent.RegisterParams{
		UserID: userID, Framework: "f", Label: "high", RoutingPriority: 10,
		PublicKey: "k", PublicKeyAlg: agent.KeyAlgEd25519, CallbackURL: "http://127.0.0.1/b", CallbackSecret: "s",
	})
	if err != nil {
		t.Fatalf("register high: %v", err)
	}

	active, err := repo.ListActiveByUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	if len(active) != 2 || active[0].ID != high.ID || active[1].ID != low.ID {
		t.Fatalf("expected [high, low] order, got %+v", active)
	}
}

func TestDelete_scopedToOwner(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := agent.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	owner := newUser(t, users, "dana")
	other := newUser(t, users, "erin")

	conn, _, err := repo.Register(ctx, agent.RegisterParams{
		UserID: owner, Framework: "f", Label: "l",
		PublicKey: "k", PublicKeyAlg: agent.KeyAlgEd25519, CallbackURL: "http://127.0.0.1/a", CallbackSecret: "s",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := repo.Delete(ctx, other, conn.ID); err != agent.ErrNotFound {
		t.Errorf("delete by non-owner: err = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, owner, conn.ID); err != nil {
		t.Errorf("delete by owner: err = %v", err)
	}
}

func TestValidateCallbackURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		wantErr      bool
	}{
		{name: "loopback http accepted", url: "http://127.0.0.1:9999/inbox", wantErr: false},
		{name: "localhost http accepted", url: "http://localhost:9999/inbox", wantErr: false},
		{name: "https public accepted", url: "https://example.com/inbox", wantErr: false},
		{name: "http public rejected", url: "http://example.com/inbox", wantErr: true},
		{name: "private ip rejected by default", url: "http://10.0.0.1/inbox", wantErr: true},
		{name: "private ip accepted when allowed", url: "http://10.0.0.1/inbox", allowPrivate: true, wantErr: false},
		{name: "malformed url rejected", url: "not-a-url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := agent.ValidateCallbackURL(tt.url, tt.allowPrivate)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCallbackURL(%q, %v) error = %v, wantErr %v", tt.url, tt.allowPrivate, err, tt.wantErr)
			}
		})
	}
}
