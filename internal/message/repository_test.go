package message_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/sqlitestore/testdb"
	"github.com/mahilo/registry/internal/user"
)

func newSender(t *testing.T, users *user.SQLiteRepository, username string) uuid.UUID {
	t.Helper()
	u, err := users.Create(context.Background(), user.CreateParams{Username: username, APIKeyHash: "h", APIKeyID: username + "-key"})
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return u.ID
}

func TestCreate_idempotencyKeyReturnsOriginal(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := message.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	sender := newSender(t, users, "alice")
	key := "idem-1"

	params := message.CreateParams{
		SenderUserID: sender, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob", Payload: "hello", IdempotencyKey: &key,
	}

	first, err := repo.Create(ctx, params, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second, err := repo.Create(ctx, params, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("Create() (duplicate) error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected duplicate idempotency-key submission to return the original message, got a new id")
	}
}

func TestCreate_rejectedHasReasonAndNoDeliveredAt(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := message.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	sender := newSender(t, users, "alice")
	reason := "payload matches a blocked pattern"

	m, err := repo.Create(ctx, message.CreateParams{
		SenderUserID: sender, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob", Payload: "this is a secret",
	}, message.StatusRejected, &reason)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if m.Status != message.StatusRejected || m.RejectionReason == nil || *m.RejectionReason != reason {
		t.Errorf("m = %+v, want rejected with reason %q", m, reason)
	}
	if m.DeliveredAt != nil {
		t.Error("expected DeliveredAt to remain nil for a rejected message")
	}
}

func TestUpdateStatus_andIncrementRetry(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := message.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	sender := newSender(t, users, "alice")

	m, err := repo.Create(ctx, message.CreateParams{
		SenderUserID: sender, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob", Payload: "hi",
	}, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.IncrementRetry(ctx, m.ID); err != nil {
		t.Fatalf("IncrementRetry() error = %v", err)
	}
	updated, err := repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", updated.RetryCount)
	}

	if err := repo.UpdateStatus(ctx, m.ID, message.StatusDelivered, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	updated, err = repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != message.StatusDelivered {
		t.Errorf("Status = %q, want delivered", updated.Status)
	}
}

func TestDeliveries_createUpdateList(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := message.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	sender := newSender(t, users, "alice")
	recipient := newSender(t, users, "bob")

	m, err := repo.Create(ctx, message.CreateParams{
		SenderUserID: sender, SenderAgent: "agent-a", RecipientType: message.RecipientGroup,
		RecipientID: "some-group", Payload: "hi everyone",
	}, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d, err := repo.CreateDelivery(ctx, m.ID, recipient, nil)
	if err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}
	if d.Status != message.StatusPending {
		t.Errorf("delivery status = %q, want pending", d.Status)
	}

	errMsg := "no active connection"
	if err := repo.UpdateDeliveryStatus(ctx, d.ID, message.StatusFailed, &errMsg, nil); err != nil {
		t.Fatalf("UpdateDeliveryStatus() error = %v", err)
	}

	deliveries, err := repo.ListDeliveries(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != message.StatusFailed {
		t.Errorf("deliveries = %+v, want one failed delivery", deliveries)
	}
}

func TestListPendingDeliveries_respectsMaxRetries(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	users := user.NewSQLiteRepository(db, zerolog.Nop())
	repo := message.NewSQLiteRepository(db, zerolog.Nop())
	ctx := context.Background()
	sender := newSender(t, users, "alice")
	recipient := newSender(t, users, "bob")

	m, err := repo.Create(ctx, message.CreateParams{
		SenderUserID: sender, SenderAgent: "agent-a", RecipientType: message.RecipientUser,
		RecipientID: "bob", Payload: "hi",
	}, message.StatusPending, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d, err := repo.CreateDelivery(ctx, m.ID, recipient, nil)
	if err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := repo.IncrementDeliveryRetry(ctx, d.ID); err != nil {
			t.Fatalf("IncrementDeliveryRetry() error = %v", err)
		}
	}

	pending, err := repo.ListPendingDeliveries(ctx, 5)
	if err != nil {
		t.Fatalf("ListPendingDeliveries() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected a delivery at retry_count=5 to be excluded from a maxRetries=5 query, got %d", len(pending))
	}

	pending, err = repo.ListPendingDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingDeliveries() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected the delivery to surface under a higher maxRetries, got %d", len(pending))
	}
}
