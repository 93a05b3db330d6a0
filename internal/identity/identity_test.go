package identity_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/config"
	"github.com/mahilo/registry/internal/identity"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func testConfig() *config.Config {
	return &config.Config{
		Argon2Memory:      19456,
		Argon2Iterations:  1,
		Argon2Parallelism: 1,
		Argon2SaltLength:  16,
		Argon2KeyLength:   32,
		ServerSecret:      "0000000000000000000000000000000000000000000000000000000000000000"[:64],
	}
}

func TestMintAndResolve(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	svc, err := identity.NewService(users, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	minted, err := svc.Mint()
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	ctx := context.Background()
	u, err := users.Create(ctx, user.CreateParams{Username: "alice", APIKeyHash: minted.Hash, APIKeyID: minted.KeyID})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	principal, err := svc.Resolve(ctx, "Bearer "+minted.APIKey)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if principal.UserID != u.ID {
		t.Errorf("UserID = %v, want %v", principal.UserID, u.ID)
	}
	if principal.Username != "alice" {
		t.Errorf("Username = %q, want %q", principal.Username, "alice")
	}
}

func TestResolve_errors(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	svc, err := identity.NewService(users, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "no bearer prefix", header: "mahilo_abc_def"},
		{name: "malformed key shape", header: "Bearer not-a-valid-key"},
		{name: "unknown key id", header: "Bearer mahilo_doesnotexist_abcd1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Resolve(ctx, tt.header); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestResolve_wrongSecret(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	svc, err := identity.NewService(users, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	ctx := context.Background()

	minted, err := svc.Mint()
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, err := users.Create(ctx, user.CreateParams{Username: "bob", APIKeyHash: minted.Hash, APIKeyID: minted.KeyID}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.Resolve(ctx, "Bearer mahilo_"+minted.KeyID+"_deadbeefdeadbeefdeadbeef"); err == nil {
		t.Fatal("expected a secret mismatch error")
	}
}

func TestVerificationCode_deterministic(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	svc, err := identity.NewService(users, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	u, err := users.Create(context.Background(), user.CreateParams{Username: "erin", APIKeyHash: "h", APIKeyID: "k"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	c1, err := svc.VerificationCode(u.ID)
	if err != nil {
		t.Fatalf("VerificationCode() error = %v", err)
	}
	c2, err := svc.VerificationCode(u.ID)
	if err != nil {
		t.Fatalf("VerificationCode() error = %v", err)
	}
	if c1 != c2 {
		t.Errorf("expected deterministic verification code, got %q and %q", c1, c2)
	}
}
