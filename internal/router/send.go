package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/policy"
)

// PolicyContext is supplied by the caller (the Message API) so the router can run the trusted-mode/ciphertext gate
// and the evaluation funnel without owning policy storage itself.
type PolicyContext struct {
	TrustedMode bool
	Policies    policy.Repository
	Engine      *policy.Engine
}

// Send runs the full funnel described in section 4.4: idempotency dedupe, input validation, recipient/connection
// resolution, policy evaluation (when applicable), and persistence of the message plus its fan-out delivery
// children. It never performs the outbound HTTP callback itself — that is internal/delivery's job, driven off the
// persisted pending rows this returns.
func (rt *Router) Send(ctx context.Context, req SendRequest, maxPayloadBytes int, pc PolicyContext) (*SendResult, []message.Delivery, error) {
	if req.IdempotencyKey != nil {
		existing, err := rt.messages.GetByIdempotencyKey(ctx, req.SenderUserID, *req.IdempotencyKey)
		if err == nil {
			return &SendResult{MessageID: existing.ID, Status: existing.Status, Deduplicated: true, RejectionReason: existing.RejectionReason}, nil, nil
		}
		if err != message.ErrNotFound {
			return nil, nil, fmt.Errorf("check idempotency key: %w", err)
		}
	}

	if err := message.ValidatePayloadSize(req.Payload, maxPayloadBytes); err != nil {
		return nil, nil, err
	}

	payloadType := req.PayloadType
	if payloadType == "" {
		payloadType = message.DefaultPayloadType
	}

	switch req.RecipientType {
	case message.RecipientUser:
		return rt.sendToUser(ctx, req, payloadType, pc)
	case message.RecipientGroup:
		return rt.sendToGroup(ctx, req, payloadType, pc)
	default:
		return nil, nil, ErrInvalidRecipientType
	}
}

func (rt *Router) sendToUser(ctx context.Context, req SendRequest, payloadType string, pc PolicyContext) (*SendResult, []message.Delivery, error) {
	recipient, conn, err := rt.ResolveUserRecipient(ctx, req.SenderUserID, req)
	if err != nil {
		return nil, nil, err
	}

	if allowed, reason, evalErr := rt.evaluateUserPolicies(ctx, req, recipient.ID, recipient.Username, payloadType, pc); evalErr != nil {
		return nil, nil, evalErr
	} else if !allowed {
		return rt.persistRejected(ctx, req, message.RecipientUser, recipient.Username, payloadType, reason)
	}

	connID := conn.ID
	createParams := message.CreateParams{
		CorrelationID: req.CorrelationID, SenderUserID: req.SenderUserID, SenderAgent: req.SenderAgent,
		RecipientType: message.RecipientUser, RecipientID: recipient.Username, RecipientConnectionID: &connID,
		Payload: req.Payload, PayloadType: payloadType, Encryption: req.Encryption, SenderSignature: req.SenderSignature,
		Context: req.Context, IdempotencyKey: req.IdempotencyKey,
	}
	msg, err := rt.messages.Create(ctx, createParams, message.StatusPending, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("persist message: %w", err)
	}

	delivery, err := rt.messages.CreateDelivery(ctx, msg.ID, recipient.ID, &connID)
	if err != nil {
		return nil, nil, fmt.Errorf("persist delivery: %w", err)
	}

	return &SendResult{MessageID: msg.ID, Status: msg.Status}, []message.Delivery{*delivery}, nil
}

func (rt *Router) sendToGroup(ctx context.Context, req SendRequest, payloadType string, pc PolicyContext) (*SendResult, []message.Delivery, error) {
	if req.RecipientGroupID == nil {
		return nil, nil, ErrRecipientNotFound
	}
	groupID := *req.RecipientGroupID

	group, err := rt.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("look up group: %w", err)
	}

	recipients, err := rt.ResolveGroupRecipients(ctx, req.SenderUserID, groupID)
	if err != nil {
		return nil, nil, err
	}

	if allowed, reason, evalErr := rt.evaluateGroupPolicies(ctx, req, groupID, payloadType, pc); evalErr != nil {
		return nil, nil, evalErr
	} else if !allowed {
		return rt.persistRejected(ctx, req, message.RecipientGroup, group.Name, payloadType, reason)
	}

	createParams := message.CreateParams{
		CorrelationID: req.CorrelationID, SenderUserID: req.SenderUserID, SenderAgent: req.SenderAgent,
		RecipientType: message.RecipientGroup, RecipientID: group.ID.String(), Payload: req.Payload,
		PayloadType: payloadType, Encryption: req.Encryption, SenderSignature: req.SenderSignature,
		Context: req.Context, IdempotencyKey: req.IdempotencyKey,
	}
	msg, err := rt.messages.Create(ctx, createParams, message.StatusPending, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("persist message: %w", err)
	}

	var deliveries []message.Delivery
	for _, rc := range recipients {
		var connID *uuid.UUID
		if rc.connection != nil {
			id := rc.connection.ID
			connID = &id
		}
		d, err := rt.messages.CreateDelivery(ctx, msg.ID, rc.userID, connID)
		if err != nil {
			return nil, nil, fmt.Errorf("persist delivery for %s: %w", rc.userID, err)
		}
		if rc.connection == nil {
			reason := noActiveConnectionReason
			if err := rt.messages.UpdateDeliveryStatus(ctx, d.ID, message.StatusFailed, &reason, nil); err != nil {
				return nil, nil, fmt.Errorf("mark delivery failed for %s: %w", rc.userID, err)
			}
			d.Status = message.StatusFailed
			d.ErrorMessage = &reason
		}
		deliveries = append(deliveries, *d)
	}

	aggregate := message.AggregateStatus(deliveries)
	if aggregate != message.StatusPending {
		var deliveredAt *time.Time
		if aggregate == message.StatusDelivered {
			now := time.Now().UTC()
			deliveredAt = &now
		}
		if err := rt.messages.UpdateStatus(ctx, msg.ID, aggregate, deliveredAt); err != nil {
			return nil, nil, fmt.Errorf("aggregate message status: %w", err)
		}
		msg.Status = aggregate
	}

	return &SendResult{MessageID: msg.ID, Status: msg.Status}, deliveries, nil
}

func (rt *Router) persistRejected(ctx context.Context, req SendRequest, recipientType, recipientID, payloadType, reason string) (*SendResult, []message.Delivery, error) {
	createParams := message.CreateParams{
		CorrelationID: req.CorrelationID, SenderUserID: req.SenderUserID, SenderAgent: req.SenderAgent,
		RecipientType: recipientType, RecipientID: recipientID, Payload: req.Payload, PayloadType: payloadType,
		Encryption: req.Encryption, SenderSignature: req.SenderSignature, Context: req.Context, IdempotencyKey: req.IdempotencyKey,
	}
	msg, err := rt.messages.Create(ctx, createParams, message.StatusRejected, &reason)
	if err != nil {
		return nil, nil, fmt.Errorf("persist rejected message: %w", err)
	}
	return &SendResult{MessageID: msg.ID, Status: msg.Status, RejectionReason: &reason}, nil, nil
}

// evaluateUserPolicies runs the scope filter + decide funnel for a user-targeted send, honoring the trusted-mode and
// ciphertext gates from section 4.3.
func (rt *Router) evaluateUserPolicies(ctx context.Context, req SendRequest, recipientID uuid.UUID, recipientUsername, payloadType string, pc PolicyContext) (bool, string, error) {
	if !pc.TrustedMode || message.IsCiphertext(payloadType) {
		return true, "", nil
	}

	roles, err := rt.friendships.RolesForFriendOf(ctx, req.SenderUserID, recipientID)
	if err != nil {
		return false, "", fmt.Errorf("look up recipient roles: %w", err)
	}

	policies, err := pc.Policies.ScopeFilterForUser(ctx, req.SenderUserID, recipientID.String(), roles)
	if err != nil {
		return false, "", fmt.Errorf("scope filter policies: %w", err)
	}

	decision := pc.Engine.Evaluate(ctx, policies, policy.EvaluationContext{
		Payload: req.Payload, RecipientUsername: recipientUsername, HasContext: req.Context != nil,
	})
	return decision.Allowed, decision.Reason, nil
}

// evaluateGroupPolicies runs the group-send parallel path: scope=group targeting groupID plus the sender's global
// policies. Role policies are never consulted for group sends.
func (rt *Router) evaluateGroupPolicies(ctx context.Context, req SendRequest, groupID uuid.UUID, payloadType string, pc PolicyContext) (bool, string, error) {
	if !pc.TrustedMode || message.IsCiphertext(payloadType) {
		return true, "", nil
	}

	policies, err := pc.Policies.ScopeFilterForGroup(ctx, req.SenderUserID, groupID.String())
	if err != nil {
		return false, "", fmt.Errorf("scope filter policies: %w", err)
	}

	decision := pc.Engine.Evaluate(ctx, policies, policy.EvaluationContext{Payload: req.Payload, HasContext: req.Context != nil})
	return decision.Allowed, decision.Reason, nil
}
