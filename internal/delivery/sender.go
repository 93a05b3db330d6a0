// Package delivery sends a message to an agent connection's callback URL and retries failed deliveries with
// exponential backoff, driven entirely from the persisted pending rows in internal/message. Grounded on the
// teacher's internal/typesense/typesense.go for the signed, timeout-bound outbound HTTP client shape, and
// internal/auth/hmac.go for the HMAC-SHA256 signing convention.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/message"
)

// callbackEnvelope is the JSON body POSTed to an agent connection's callback URL, per section 4.5. Field names and
// presence match the wire protocol exactly: the signature is computed over these exact bytes, so this struct's
// json tags are load-bearing, not cosmetic.
type callbackEnvelope struct {
	MessageID             string              `json:"messageId"`
	CorrelationID         *string             `json:"correlationId,omitempty"`
	RecipientConnectionID string              `json:"recipientConnectionId"`
	DeliveryID            *string             `json:"deliveryId,omitempty"`
	Sender                string              `json:"sender"`
	SenderAgent           string              `json:"senderAgent"`
	Message               string              `json:"message"`
	PayloadType           string              `json:"payloadType"`
	Encryption            *message.Encryption `json:"encryption,omitempty"`
	SenderSignature       *message.Signature  `json:"senderSignature,omitempty"`
	Context               *string             `json:"context,omitempty"`
	GroupID               *string             `json:"groupId,omitempty"`
	GroupName             *string             `json:"groupName,omitempty"`
	Timestamp             string              `json:"timestamp"`
}

// GroupRef carries the group identity included in a fan-out callback envelope. Nil on a direct user-targeted send.
type GroupRef struct {
	ID   string
	Name string
}

// DeliveryTarget is everything Sender.Deliver needs beyond the connection and the message itself: the resolved
// connection id the envelope names explicitly (a recipient may have several connections), the optional per-recipient
// delivery id for a group fan-out, the sender's username, and the optional group identity.
type DeliveryTarget struct {
	ConnectionID   string
	DeliveryID     *string
	SenderUsername string
	Group          *GroupRef
}

// Sender performs the signed outbound HTTP callback described in section 4.5.
type Sender struct {
	httpClient *http.Client
}

// NewSender builds a Sender whose outbound requests time out after timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{httpClient: &http.Client{Timeout: timeout}}
}

// Deliver POSTs msg to conn's callback URL, signing the raw request body with HMAC-SHA256 keyed by conn's callback
// secret. A non-2xx response, a transport error, or a timeout all count as delivery failure. The signature is
// computed over the exact bytes written to the request body — never a re-serialized copy of the envelope — per the
// correctness property section 9 calls out explicitly.
func (s *Sender) Deliver(ctx context.Context, conn *agent.Connection, msg *message.Message, target DeliveryTarget) error {
	body, err := json.Marshal(callbackEnvelope{
		MessageID:             msg.ID.String(),
		CorrelationID:         msg.CorrelationID,
		RecipientConnectionID: target.ConnectionID,
		DeliveryID:            target.DeliveryID,
		Sender:                target.SenderUsername,
		SenderAgent:           msg.SenderAgent,
		Message:               msg.Payload,
		PayloadType:           msg.PayloadType,
		Encryption:            msg.Encryption,
		SenderSignature:       msg.SenderSignature,
		Context:               msg.Context,
		GroupID:               groupID(target.Group),
		GroupName:             groupName(target.Group),
		Timestamp:             time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal callback envelope: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := sign(conn.CallbackSecret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mahilo-Message-Id", msg.ID.String())
	req.Header.Set("X-Mahilo-Timestamp", timestamp)
	req.Header.Set("X-Mahilo-Signature", "sha256="+signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes the hex-encoded HMAC-SHA256 signature over the raw body bytes, keyed by secret. This is the exact
// byte sequence written to the wire: the implementation must capture it once and reuse it for both signing and
// sending rather than re-serializing, per section 9's flagged bug class.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func groupID(g *GroupRef) *string {
	if g == nil {
		return nil
	}
	return &g.ID
}

func groupName(g *GroupRef) *string {
	if g == nil {
		return nil
	}
	return &g.Name
}
