package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/delivery"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func TestWorker_processPending_deliversAndAggregates(t *testing.T) {
	db := testdb.Open(t)
	log := zerolog.Nop()
	users := user.NewSQLiteRepository(db, log)
	agents := agent.NewSQLiteRepository(db, log)
	messages := message.NewSQLiteRepository(db, log)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := users.Create(ctx, user.CreateParams{Username: "alice", APIKeyHash: "h", APIKeyID: "alice-key"})
	if err != nil {
		t.Fatalf("create sender: %v", err)
	}
	recipient, err := users.Create(ctx, user.CreateParams{Username: "bob", APIKeyHash: "h", APIKeyID: "bob-key"})
	if err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	conn, _, err := agents.Register(ctx, agent.RegisterParams{
		UserID: recipient.ID, Framework: "mahilo", Label: "primary", PublicKey: "pk",
		PublicKeyAlg: agent.KeyAlgEd25519, CallbackURL: srv.URL, CallbackSecret: "shh",
	})
	if err != nil {
		t.Fatalf("register connection: %v", err)
	}

	msg, err := messages.Create(ctx, message.CreateParams{
		SenderUserID: sender.ID, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob", RecipientConnectionID: &conn.ID, Payload: "hello", PayloadType: "text/plain",
	}, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	d, err := messages.CreateDelivery(ctx, msg.ID, recipient.ID, &conn.ID)
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	_ = d

	w := delivery.NewWorker(messages, agents, users, nil, delivery.NewSender(2*time.Second), 5, time.Second, time.Second, log)
	w.RunOnce(ctx)

	got, err := messages.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != message.StatusDelivered {
		t.Errorf("message status = %q, want delivered", got.Status)
	}
}

func TestWorker_processPending_exhaustsRetriesAndFails(t *testing.T) {
	db := testdb.Open(t)
	log := zerolog.Nop()
	users := user.NewSQLiteRepository(db, log)
	agents := agent.NewSQLiteRepository(db, log)
	messages := message.NewSQLiteRepository(db, log)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender, _ := users.Create(ctx, user.CreateParams{Username: "alice2", APIKeyHash: "h", APIKeyID: "alice2-key"})
	recipient, _ := users.Create(ctx, user.CreateParams{Username: "bob2", APIKeyHash: "h", APIKeyID: "bob2-key"})
	conn, _, err := agents.Register(ctx, agent.RegisterParams{
		UserID: recipient.ID, Framework: "mahilo", Label: "primary", PublicKey: "pk",
		PublicKeyAlg: agent.KeyAlgEd25519, CallbackURL: srv.URL, CallbackSecret: "shh",
	})
	if err != nil {
		t.Fatalf("register connection: %v", err)
	}

	msg, err := messages.Create(ctx, message.CreateParams{
		SenderUserID: sender.ID, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob2", RecipientConnectionID: &conn.ID, Payload: "hello", PayloadType: "text/plain",
	}, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if _, err := messages.CreateDelivery(ctx, msg.ID, recipient.ID, &conn.ID); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	w := delivery.NewWorker(messages, agents, users, nil, delivery.NewSender(2*time.Second), 1, time.Millisecond, time.Millisecond, log)
	w.RunOnce(ctx)

	got, err := messages.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != message.StatusFailed {
		t.Errorf("message status = %q, want failed after exhausting retries", got.Status)
	}
}
