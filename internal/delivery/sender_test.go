package delivery_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/delivery"
	"github.com/mahilo/registry/internal/message"
)

func TestSender_Deliver_success(t *testing.T) {
	var gotMessageID, gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMessageID = r.Header.Get("X-Mahilo-Message-Id")
		gotSignature = r.Header.Get("X-Mahilo-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender(2 * time.Second)
	conn := &agent.Connection{CallbackURL: srv.URL, CallbackSecret: "shh"}
	msg := &message.Message{ID: uuid.New(), SenderUserID: uuid.New(), SenderAgent: "agent-a", Payload: "hi",
		PayloadType: "text/plain", CreatedAt: time.Now().UTC()}

	err := sender.Deliver(context.Background(), conn, msg, delivery.DeliveryTarget{
		ConnectionID: uuid.New().String(), SenderUsername: "alice",
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if gotMessageID != msg.ID.String() {
		t.Errorf("X-Mahilo-Message-Id = %q, want %q", gotMessageID, msg.ID.String())
	}
	if !strings.HasPrefix(gotSignature, "sha256=") {
		t.Fatalf("X-Mahilo-Signature = %q, want sha256=<hex> prefix", gotSignature)
	}

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Errorf("signature mismatch: got %q, want %q (computed over raw received body)", gotSignature, want)
	}
	if !strings.Contains(string(gotBody), `"message":"hi"`) {
		t.Errorf("expected the raw body to carry the payload under \"message\", got %s", gotBody)
	}
}

func TestSender_Deliver_nonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := delivery.NewSender(2 * time.Second)
	conn := &agent.Connection{CallbackURL: srv.URL, CallbackSecret: "shh"}
	msg := &message.Message{ID: uuid.New(), SenderUserID: uuid.New(), SenderAgent: "agent-a", Payload: "hi",
		PayloadType: "text/plain", CreatedAt: time.Now().UTC()}

	err := sender.Deliver(context.Background(), conn, msg, delivery.DeliveryTarget{
		ConnectionID: uuid.New().String(), SenderUsername: "alice",
	})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
