// Package message models a submitted inter-agent payload and its fan-out delivery tracking. Grounded on the
// teacher's message package (plain entity + CreateParams + Repository contract), generalized from a channel-scoped
// chat message to a routed, policy-evaluated, at-most-once send with per-recipient delivery children.
package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the message package.
var (
	ErrNotFound         = errors.New("message not found")
	ErrPayloadTooLarge  = errors.New("payload exceeds the configured maximum size")
	ErrPayloadEmpty     = errors.New("payload must not be empty")
	ErrDeliveryNotFound = errors.New("message delivery not found")
)

// DefaultMaxPayloadBytes is the default payload size ceiling (32 KiB).
const DefaultMaxPayloadBytes = 32 * 1024

// History page size bounds for the Message API's list endpoint (section 4.6).
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Message/delivery statuses.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Recipient types.
const (
	RecipientUser  = "user"
	RecipientGroup = "group"
)

const DefaultPayloadType = "text/plain"

// CiphertextPayloadType marks an opaquely-routed, end-to-end-encrypted payload; policy evaluation is skipped for
// messages of this payload type regardless of trusted-mode configuration.
const CiphertextPayloadType = "application/mahilo+ciphertext"

// Encryption describes the sender-declared encryption envelope for a payload, routed opaquely.
type Encryption struct {
	Alg   string `json:"alg"`
	KeyID string `json:"keyId"`
}

// Signature describes a sender-declared signature over the payload, routed opaquely; the registry does not verify
// it.
type Signature struct {
	Alg       string `json:"alg"`
	KeyID     string `json:"keyId"`
	Signature string `json:"signature"`
}

// Message holds the fields read from the messages table.
type Message struct {
	ID                     uuid.UUID
	CorrelationID          *string
	SenderUserID           uuid.UUID
	SenderAgent            string
	RecipientType          string
	RecipientID            string
	RecipientConnectionID  *uuid.UUID
	Payload                string
	PayloadType            string
	Encryption             *Encryption
	SenderSignature        *Signature
	Context                *string
	Status                 string
	RejectionReason        *string
	RetryCount             int
	IdempotencyKey         *string
	CreatedAt              time.Time
	DeliveredAt            *time.Time
}

// Participant identifies one side of a user-to-user message pair for history lookups. RecipientID on a user-targeted
// Message is stored as the recipient's username (see CreateParams), not their id, so a pair lookup needs both forms:
// the id to match a row where this participant was the sender, and the username to match a row where they were the
// recipient.
type Participant struct {
	UserID   uuid.UUID
	Username string
}

// CreateParams groups the inputs for persisting a new message.
type CreateParams struct {
	CorrelationID         *string
	SenderUserID          uuid.UUID
	SenderAgent           string
	RecipientType         string
	RecipientID           string
	RecipientConnectionID *uuid.UUID
	Payload               string
	PayloadType           string
	Encryption            *Encryption
	SenderSignature       *Signature
	Context               *string
	IdempotencyKey        *string
}

// Delivery holds the fields read from the message_deliveries table: one row per recipient connection in a group
// fan-out (or a single row for a direct user send).
type Delivery struct {
	ID                    uuid.UUID
	MessageID             uuid.UUID
	RecipientUserID       uuid.UUID
	RecipientConnectionID *uuid.UUID
	Status                string
	RetryCount            int
	ErrorMessage          *string
	DeliveredAt           *time.Time
}

// ValidatePayloadSize enforces the configured maximum payload size in bytes.
func ValidatePayloadSize(payload string, maxBytes int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	if len(payload) > maxBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// ClampHistoryLimit constrains a requested history page size to [1, MaxHistoryLimit], defaulting to
// DefaultHistoryLimit when the input is zero or negative.
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// IsCiphertext reports whether payloadType marks an opaquely-routed encrypted payload, for which policy evaluation
// must be skipped.
func IsCiphertext(payloadType string) bool {
	return payloadType == CiphertextPayloadType
}

// AggregateStatus derives a fan-out parent's terminal status from its children. Any still-pending child keeps the
// parent pending; an all-delivered set resolves to delivered; otherwise (no pending remain, but not all delivered)
// the parent reflects the worst non-delivered outcome and resolves to failed.
func AggregateStatus(children []Delivery) string {
	if len(children) == 0 {
		return StatusPending
	}
	allDelivered := true
	for _, c := range children {
		if c.Status == StatusPending {
			return StatusPending
		}
		if c.Status != StatusDelivered {
			allDelivered = false
		}
	}
	if allDelivered {
		return StatusDelivered
	}
	return StatusFailed
}

// Repository is the data-access contract for messages and their delivery children.
type Repository interface {
	Create(ctx context.Context, p CreateParams, status string, rejectionReason *string) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	GetByIdempotencyKey(ctx context.Context, senderID uuid.UUID, idempotencyKey string) (*Message, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	ListHistory(ctx context.Context, userID uuid.UUID, username, direction string, since *time.Time, limit int) ([]Message, error)
	RecentBetween(ctx context.Context, a, b Participant, limit int) ([]Message, error)
	CountBetween(ctx context.Context, a, b Participant) (int, error)

	CreateDelivery(ctx context.Context, messageID, recipientUserID uuid.UUID, recipientConnectionID *uuid.UUID) (*Delivery, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string, deliveredAt *time.Time) error
	IncrementDeliveryRetry(ctx context.Context, id uuid.UUID) error
	ListDeliveries(ctx context.Context, messageID uuid.UUID) ([]Delivery, error)
	ListPendingDeliveries(ctx context.Context, maxRetries int) ([]Delivery, error)
}
