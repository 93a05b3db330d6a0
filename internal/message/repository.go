package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/sqlitestore"
)

const messageColumns = `id, correlation_id, sender_user_id, sender_agent, recipient_type, recipient_id,
	recipient_connection_id, payload, payload_type, encryption, sender_signature, context, status,
	rejection_reason, retry_count, idempotency_key, created_at, delivered_at`

const deliveryColumns = `id, message_id, recipient_user_id, recipient_connection_id, status, retry_count,
	error_message, delivered_at`

// SQLiteRepository implements Repository over database/sql.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a new SQLite-backed message repository.
func NewSQLiteRepository(db *sql.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, log: logger}
}

// Create persists a message with the given terminal-or-initial status. status is typically StatusPending for
// accepted sends and StatusRejected (with a non-nil rejectionReason) for policy/validation rejections that must
// still be recorded.
func (r *SQLiteRepository) Create(ctx context.Context, p CreateParams, status string, rejectionReason *string) (*Message, error) {
	id := uuid.New()
	now := time.Now().UTC()
	payloadType := p.PayloadType
	if payloadType == "" {
		payloadType = DefaultPayloadType
	}

	var encryptionJSON *string
	if p.Encryption != nil {
		b, err := json.Marshal(p.Encryption)
		if err != nil {
			return nil, fmt.Errorf("marshal encryption: %w", err)
		}
		s := string(b)
		encryptionJSON = &s
	}
	var signatureJSON *string
	if p.SenderSignature != nil {
		b, err := json.Marshal(p.SenderSignature)
		if err != nil {
			return nil, fmt.Errorf("marshal sender signature: %w", err)
		}
		s := string(b)
		signatureJSON = &s
	}

	var recipientConnStr *string
	if p.RecipientConnectionID != nil {
		s := p.RecipientConnectionID.String()
		recipientConnStr = &s
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), p.CorrelationID, p.SenderUserID.String(), p.SenderAgent, p.RecipientType, p.RecipientID,
		recipientConnStr, p.Payload, payloadType, encryptionJSON, signatureJSON, p.Context, status,
		rejectionReason, 0, p.IdempotencyKey, now.Format(time.RFC3339Nano), nil)
	if err != nil {
		if sqlitestore.IsUniqueViolation(err) && p.IdempotencyKey != nil {
			return r.GetByIdempotencyKey(ctx, p.SenderUserID, *p.IdempotencyKey)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID fetches a single message.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id.String())
	return scanMessage(row)
}

// GetByIdempotencyKey looks up the (senderID, idempotencyKey) pair's existing message, if any.
func (r *SQLiteRepository) GetByIdempotencyKey(ctx context.Context, senderID uuid.UUID, idempotencyKey string) (*Message, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sender_user_id = ? AND idempotency_key = ?",
		senderID.String(), idempotencyKey)
	return scanMessage(row)
}

// UpdateStatus transitions a message's status, stamping deliveredAt when provided.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error {
	var deliveredAtStr *string
	if deliveredAt != nil {
		s := deliveredAt.UTC().Format(time.RFC3339Nano)
		deliveredAtStr = &s
	}
	res, err := r.db.ExecContext(ctx, "UPDATE messages SET status = ?, delivered_at = ? WHERE id = ?",
		status, deliveredAtStr, id.String())
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps a message's retry_count by one.
func (r *SQLiteRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "UPDATE messages SET retry_count = retry_count + 1 WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("increment message retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory returns userID's message history, newest first, per the direction/since/limit rules in section 4.6.
// direction selects "sent" (userID is the sender), "received" (userID, identified by username, is a direct
// recipient), or "" for both. since, when non-nil, excludes messages created at or before it. Group-targeted
// messages are only ever "sent" from this user's perspective: the per-recipient fan-out is tracked on
// MessageDelivery, not by rewriting RecipientID per member.
func (r *SQLiteRepository) ListHistory(ctx context.Context, userID uuid.UUID, username, direction string, since *time.Time, limit int) ([]Message, error) {
	var clause string
	args := []any{}
	switch direction {
	case "sent":
		clause = "sender_user_id = ?"
		args = append(args, userID.String())
	case "received":
		clause = "recipient_type = ? AND recipient_id = ?"
		args = append(args, RecipientUser, username)
	default:
		clause = "sender_user_id = ? OR (recipient_type = ? AND recipient_id = ?)"
		args = append(args, userID.String(), RecipientUser, username)
	}
	if since != nil {
		clause = "(" + clause + ") AND created_at > ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+clause+" ORDER BY created_at DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("query message history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentBetween returns the most recent messages sent in either direction between a and b, newest first. Used by
// the context preview's recentInteractions. recipient_id on a user-targeted message is stored as the recipient's
// username, so each direction is matched by the sender's id and the recipient's username.
func (r *SQLiteRepository) RecentBetween(ctx context.Context, a, b Participant, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender_user_id = ? AND recipient_type = ? AND recipient_id = ?)
		    OR (sender_user_id = ? AND recipient_type = ? AND recipient_id = ?)
		 ORDER BY created_at DESC LIMIT ?`,
		a.UserID.String(), RecipientUser, b.Username, b.UserID.String(), RecipientUser, a.Username, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountBetween returns the total number of messages exchanged in either direction between a and b, used by the
// context preview's interactionCount.
func (r *SQLiteRepository) CountBetween(ctx context.Context, a, b Participant) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE (sender_user_id = ? AND recipient_type = ? AND recipient_id = ?)
		    OR (sender_user_id = ? AND recipient_type = ? AND recipient_id = ?)`,
		a.UserID.String(), RecipientUser, b.Username, b.UserID.String(), RecipientUser, a.Username).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages between pair: %w", err)
	}
	return count, nil
}

// CreateDelivery inserts a pending fan-out child for a message.
func (r *SQLiteRepository) CreateDelivery(ctx context.Context, messageID, recipientUserID uuid.UUID, recipientConnectionID *uuid.UUID) (*Delivery, error) {
	id := uuid.New()
	var connStr *string
	if recipientConnectionID != nil {
		s := recipientConnectionID.String()
		connStr = &s
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_deliveries (id, message_id, recipient_user_id, recipient_connection_id, status, retry_count, error_message, delivered_at)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, NULL)`,
		id.String(), messageID.String(), recipientUserID.String(), connStr, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	return &Delivery{ID: id, MessageID: messageID, RecipientUserID: recipientUserID, RecipientConnectionID: recipientConnectionID, Status: StatusPending}, nil
}

// UpdateDeliveryStatus transitions a delivery child's status.
func (r *SQLiteRepository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string, deliveredAt *time.Time) error {
	var deliveredAtStr *string
	if deliveredAt != nil {
		s := deliveredAt.UTC().Format(time.RFC3339Nano)
		deliveredAtStr = &s
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE message_deliveries SET status = ?, error_message = ?, delivered_at = ? WHERE id = ?",
		status, errorMessage, deliveredAtStr, id.String())
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// IncrementDeliveryRetry bumps a delivery child's retry_count by one.
func (r *SQLiteRepository) IncrementDeliveryRetry(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "UPDATE message_deliveries SET retry_count = retry_count + 1 WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("increment delivery retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ListDeliveries returns every fan-out child for a message.
func (r *SQLiteRepository) ListDeliveries(ctx context.Context, messageID uuid.UUID) ([]Delivery, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deliveryColumns+" FROM message_deliveries WHERE message_id = ?", messageID.String())
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// ListPendingDeliveries returns every delivery child still pending with retry_count below maxRetries, for the
// background retry loop to drive.
func (r *SQLiteRepository) ListPendingDeliveries(ctx context.Context, maxRetries int) ([]Delivery, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deliveryColumns+" FROM message_deliveries WHERE status = ? AND retry_count < ? ORDER BY delivered_at",
		StatusPending, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m                  Message
		idStr              string
		senderIDStr        string
		recipientConnStr   sql.NullString
		encryptionJSON     sql.NullString
		signatureJSON      sql.NullString
		contextStr         sql.NullString
		idempotencyKey     sql.NullString
		createdAt          string
		deliveredAt        sql.NullString
	)
	err := row.Scan(&idStr, &m.CorrelationID, &senderIDStr, &m.SenderAgent, &m.RecipientType, &m.RecipientID,
		&recipientConnStr, &m.Payload, &m.PayloadType, &encryptionJSON, &signatureJSON, &contextStr, &m.Status,
		&m.RejectionReason, &m.RetryCount, &idempotencyKey, &createdAt, &deliveredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if m.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	if m.SenderUserID, err = uuid.Parse(senderIDStr); err != nil {
		return nil, fmt.Errorf("parse sender id: %w", err)
	}
	if recipientConnStr.Valid {
		connID, err := uuid.Parse(recipientConnStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse recipient connection id: %w", err)
		}
		m.RecipientConnectionID = &connID
	}
	if encryptionJSON.Valid {
		var enc Encryption
		if err := json.Unmarshal([]byte(encryptionJSON.String), &enc); err != nil {
			return nil, fmt.Errorf("unmarshal encryption: %w", err)
		}
		m.Encryption = &enc
	}
	if signatureJSON.Valid {
		var sig Signature
		if err := json.Unmarshal([]byte(signatureJSON.String), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal sender signature: %w", err)
		}
		m.SenderSignature = &sig
	}
	if contextStr.Valid {
		m.Context = &contextStr.String
	}
	if idempotencyKey.Valid {
		m.IdempotencyKey = &idempotencyKey.String
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse message created_at: %w", err)
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse message delivered_at: %w", err)
		}
		m.DeliveredAt = &t
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var (
		d            Delivery
		idStr        string
		messageIDStr string
		recipientStr string
		connStr      sql.NullString
		errorMessage sql.NullString
		deliveredAt  sql.NullString
	)
	err := row.Scan(&idStr, &messageIDStr, &recipientStr, &connStr, &d.Status, &d.RetryCount, &errorMessage, &deliveredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse delivery id: %w", err)
	}
	if d.MessageID, err = uuid.Parse(messageIDStr); err != nil {
		return nil, fmt.Errorf("parse delivery message id: %w", err)
	}
	if d.RecipientUserID, err = uuid.Parse(recipientStr); err != nil {
		return nil, fmt.Errorf("parse delivery recipient id: %w", err)
	}
	if connStr.Valid {
		connID, err := uuid.Parse(connStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse delivery connection id: %w", err)
		}
		d.RecipientConnectionID = &connID
	}
	if errorMessage.Valid {
		d.ErrorMessage = &errorMessage.String
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse delivery delivered_at: %w", err)
		}
		d.DeliveredAt = &t
	}
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]Delivery, error) {
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}
