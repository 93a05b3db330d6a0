package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/user"
)

// Worker polls for pending deliveries and attempts them, applying exponential backoff between retries of the same
// delivery. There is no persisted "next attempt" column (section 8 only names retry_count), so backoff is tracked
// in-memory per delivery id; this is consistent with the single-node, single-SQLite-file deployment model section 6
// describes as the default.
type Worker struct {
	messages message.Repository
	agents   agent.Repository
	users    user.Repository
	groups   graph.GroupRepository
	sender   *Sender
	log      zerolog.Logger

	maxRetries   int
	baseDelay    time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	nextTry map[uuid.UUID]time.Time
}

// NewWorker builds a delivery retry Worker. users and groups resolve the sender's username and the group identity
// the callback envelope names (section 4.5); groups may be nil for deployments that never fan out to a group, in
// which case GroupID/GroupName are simply omitted from the envelope.
func NewWorker(messages message.Repository, agents agent.Repository, users user.Repository, groups graph.GroupRepository,
	sender *Sender, maxRetries int, baseDelay, pollInterval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		messages:     messages,
		agents:       agents,
		users:        users,
		groups:       groups,
		sender:       sender,
		log:          logger,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		pollInterval: pollInterval,
		nextTry:      make(map[uuid.UUID]time.Time),
	}
}

// Run polls on pollInterval until ctx is cancelled, attempting every eligible pending delivery on each tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("process pending deliveries")
			}
		}
	}
}

// RunOnce attempts every eligible pending delivery once, without blocking on the poll ticker. Exported so tests and
// callers needing synchronous draining (e.g. a manual "flush" admin endpoint) don't have to wait out a full Run loop.
func (w *Worker) RunOnce(ctx context.Context) error {
	pending, err := w.messages.ListPendingDeliveries(ctx, w.maxRetries)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, d := range pending {
		if !w.due(d.ID, now) {
			continue
		}
		w.attempt(ctx, d)
	}
	return nil
}

// AttemptNow delivers d immediately, synchronously, outside the poll loop. The send API calls this once per
// delivery right after Router.Send persists the pending rows, so a reachable recipient gets a same-response
// "delivered" status instead of waiting out the next poll tick.
func (w *Worker) AttemptNow(ctx context.Context, d message.Delivery) {
	w.attempt(ctx, d)
}

func (w *Worker) due(id uuid.UUID, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.nextTry[id]
	return !ok || !now.Before(t)
}

func (w *Worker) scheduleRetry(id uuid.UUID, retryCount int) {
	shift := retryCount
	if shift > 10 {
		shift = 10
	}
	delay := w.baseDelay * time.Duration(int64(1)<<uint(shift))
	w.mu.Lock()
	w.nextTry[id] = time.Now().Add(delay)
	w.mu.Unlock()
}

func (w *Worker) forget(id uuid.UUID) {
	w.mu.Lock()
	delete(w.nextTry, id)
	w.mu.Unlock()
}

// attempt delivers a single pending delivery and updates its status, its retry count, and (once the delivery
// reaches a terminal state) its parent message's aggregate status.
func (w *Worker) attempt(ctx context.Context, d message.Delivery) {
	if d.RecipientConnectionID == nil {
		// No connection was available at send time; sendToGroup already marked this delivery failed synchronously,
		// so it should never appear in the pending set. Defensive skip.
		w.forget(d.ID)
		return
	}

	conn, err := w.agents.GetByID(ctx, *d.RecipientConnectionID)
	if err != nil {
		w.finalizeDelivery(ctx, d, message.StatusFailed, strPtr("recipient connection no longer exists"))
		return
	}
	if conn.Status != agent.StatusActive {
		w.finalizeDelivery(ctx, d, message.StatusFailed, strPtr("recipient connection is inactive"))
		return
	}

	msg, err := w.messages.GetByID(ctx, d.MessageID)
	if err != nil {
		w.log.Error().Err(err).Str("message_id", d.MessageID.String()).Msg("load message for delivery")
		return
	}

	target := w.deliveryTarget(ctx, d, msg)
	sendErr := w.sender.Deliver(ctx, conn, msg, target)
	if sendErr == nil {
		w.finalizeDelivery(ctx, d, message.StatusDelivered, nil)
		return
	}

	w.log.Warn().Err(sendErr).Str("delivery_id", d.ID.String()).Int("retry_count", d.RetryCount).
		Msg("delivery attempt failed")

	if err := w.messages.IncrementDeliveryRetry(ctx, d.ID); err != nil {
		w.log.Error().Err(err).Msg("increment delivery retry count")
	}

	if d.RetryCount+1 >= w.maxRetries {
		reason := sendErr.Error()
		w.finalizeDelivery(ctx, d, message.StatusFailed, &reason)
		return
	}

	w.scheduleRetry(d.ID, d.RetryCount+1)
}

// deliveryTarget resolves the envelope fields Sender.Deliver cannot derive from the message/connection rows alone:
// the sender's username, and (for a group fan-out) the group's identity and this child's delivery id.
func (w *Worker) deliveryTarget(ctx context.Context, d message.Delivery, msg *message.Message) DeliveryTarget {
	target := DeliveryTarget{ConnectionID: d.RecipientConnectionID.String()}

	if sender, err := w.users.GetByID(ctx, msg.SenderUserID); err == nil {
		target.SenderUsername = sender.Username
	} else {
		w.log.Warn().Err(err).Str("sender_id", msg.SenderUserID.String()).Msg("look up sender username for callback envelope")
	}

	if msg.RecipientType == message.RecipientGroup {
		deliveryID := d.ID.String()
		target.DeliveryID = &deliveryID
		if w.groups != nil {
			if groupID, err := uuid.Parse(msg.RecipientID); err == nil {
				if g, err := w.groups.GetByID(ctx, groupID); err == nil {
					target.Group = &GroupRef{ID: g.ID.String(), Name: g.Name}
				}
			}
		}
	}

	return target
}

// finalizeDelivery persists the delivery's terminal status and re-aggregates its parent message's status from its
// sibling deliveries.
func (w *Worker) finalizeDelivery(ctx context.Context, d message.Delivery, status string, errorMessage *string) {
	w.forget(d.ID)

	var deliveredAt *time.Time
	if status == message.StatusDelivered {
		now := time.Now().UTC()
		deliveredAt = &now
	}
	if err := w.messages.UpdateDeliveryStatus(ctx, d.ID, status, errorMessage, deliveredAt); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID.String()).Msg("update delivery status")
		return
	}

	siblings, err := w.messages.ListDeliveries(ctx, d.MessageID)
	if err != nil {
		w.log.Error().Err(err).Str("message_id", d.MessageID.String()).Msg("list sibling deliveries")
		return
	}

	aggregate := message.AggregateStatus(siblings)
	if aggregate == message.StatusPending {
		return
	}

	var parentDeliveredAt *time.Time
	if aggregate == message.StatusDelivered {
		now := time.Now().UTC()
		parentDeliveredAt = &now
	}
	if err := w.messages.UpdateStatus(ctx, d.MessageID, aggregate, parentDeliveredAt); err != nil {
		w.log.Error().Err(err).Str("message_id", d.MessageID.String()).Msg("aggregate parent message status")
	}
}

func strPtr(s string) *string { return &s }
