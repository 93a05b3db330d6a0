// Package notify publishes the fire-and-forget events described in section 4.8: message_received, delivery_status,
// friend_request, and group_invite. Grounded on the teacher's internal/gateway/publisher.go (same envelope shape and
// publish-to-a-single-channel pattern), generalized from a hard-coded dispatch-event enum to the registry's own
// event set. The registry has no websocket gateway of its own (out of scope); a Publisher only emits to Valkey
// pub/sub for whatever downstream consumer is listening.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const eventsChannelPrefix = "mahilo.notifications."

// EventType enumerates the notification events a registry deployment can emit.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventDeliveryStatus  EventType = "delivery_status"
	EventFriendRequest   EventType = "friend_request"
	EventGroupInvite     EventType = "group_invite"
)

// envelope is the JSON structure published to a user's notification channel.
type envelope struct {
	Type EventType `json:"t"`
	Data any       `json:"d"`
}

// Publisher emits notification events to per-user Valkey pub/sub channels. A nil rdb degrades every Publish call to
// a no-op, matching the spec's requirement that notifications are best-effort and never block a send (section 4.8:
// "failure to deliver a notification must never fail the underlying operation").
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new notification publisher. rdb may be nil when no Valkey URL is configured.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// Publish serializes and publishes an event to recipientID's notification channel. Errors are logged, not returned:
// callers invoke this fire-and-forget, typically in a goroutine, after their own transaction has already committed.
func (p *Publisher) Publish(ctx context.Context, recipientID uuid.UUID, eventType EventType, data any) {
	if p.rdb == nil {
		return
	}

	payload, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		p.log.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal notification event")
		return
	}

	channel := fmt.Sprintf("%s%s", eventsChannelPrefix, recipientID.String())
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("event_type", string(eventType)).Str("recipient_id", recipientID.String()).
			Msg("publish notification event")
	}
}

// MessageReceivedPayload is published when a message is successfully delivered to a recipient.
type MessageReceivedPayload struct {
	MessageID   string `json:"messageId"`
	SenderAgent string `json:"senderAgent"`
	PayloadType string `json:"payloadType"`
}

// DeliveryStatusPayload is published to the sender when a delivery reaches a terminal status.
type DeliveryStatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// FriendRequestPayload is published to the addressee when a friend request is created.
type FriendRequestPayload struct {
	FriendshipID string `json:"friendshipId"`
	FromUsername string `json:"fromUsername"`
}

// GroupInvitePayload is published to an invited user when a group invite is created.
type GroupInvitePayload struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	InvitedBy string `json:"invitedBy"`
}
