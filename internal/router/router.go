// Package router resolves a submitted send to its recipient connection(s), deduplicates on idempotency key, and
// persists the resulting message and fan-out delivery rows before handing off to delivery. Grounded on the
// teacher's api/message.go handler (parse → authorize → persist → respond shape), generalized into a standalone
// service the HTTP layer and the policy-aware send path both call through.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/user"
)

// Sentinel errors for the router package.
var (
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrConnectionNotFound  = errors.New("recipient connection not found or not active")
	ErrNotAuthorizedToSend = errors.New("sender is not authorized to message this recipient")
	ErrInvalidRecipientType = errors.New("recipientType must be user or group")
)

const noActiveConnectionReason = "No active connection"

// RoutingHints narrows connection selection for a user-targeted send.
type RoutingHints struct {
	Labels []string
	Tags   []string
}

// SendRequest carries the router's inputs; Send validates the payload size itself.
type SendRequest struct {
	SenderUserID          uuid.UUID
	SenderAgent           string
	CorrelationID         *string
	RecipientType         string
	RecipientUsername     string // for RecipientType=user
	RecipientGroupID       *uuid.UUID
	RecipientConnectionID *uuid.UUID
	RoutingHints          RoutingHints
	Payload               string
	PayloadType           string
	Encryption            *message.Encryption
	SenderSignature       *message.Signature
	Context               *string
	IdempotencyKey        *string
}

// SendResult is what the Message API returns to the caller after a send attempt.
type SendResult struct {
	MessageID       uuid.UUID
	Status          string
	Deduplicated    bool
	RejectionReason *string
}

// recipientConnection pairs a resolved recipient user with the connection chosen (or not found) for them.
type recipientConnection struct {
	userID     uuid.UUID
	connection *agent.Connection // nil when no active connection exists
}

// Router resolves recipients/connections and persists messages and their fan-out deliveries.
type Router struct {
	users       user.Repository
	agents      agent.Repository
	authz       *graph.Authorizer
	groups      graph.GroupRepository
	friendships graph.FriendshipRepository
	messages    message.Repository
	log         zerolog.Logger
}

// New builds a Router.
func New(users user.Repository, agents agent.Repository, authz *graph.Authorizer, groups graph.GroupRepository,
	friendships graph.FriendshipRepository, messages message.Repository, logger zerolog.Logger) *Router {
	return &Router{users: users, agents: agents, authz: authz, groups: groups, friendships: friendships, messages: messages, log: logger}
}

// ResolveUserRecipient looks up a recipient by username, enforces canSendToUser, and selects a connection per the
// explicit-id / label-hint / tag-hint / highest-priority funnel.
func (rt *Router) ResolveUserRecipient(ctx context.Context, senderID uuid.UUID, req SendRequest) (*user.User, *agent.Connection, error) {
	recipient, err := rt.users.GetByUsername(ctx, req.RecipientUsername)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, nil, ErrRecipientNotFound
		}
		return nil, nil, fmt.Errorf("look up recipient: %w", err)
	}

	canSend, err := rt.authz.CanSendToUser(ctx, senderID, recipient.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("check send authorization: %w", err)
	}
	if !canSend {
		return nil, nil, ErrNotAuthorizedToSend
	}

	if req.RecipientConnectionID != nil {
		conn, err := rt.agents.GetByID(ctx, *req.RecipientConnectionID)
		if err != nil || conn.UserID != recipient.ID || conn.Status != agent.StatusActive {
			return recipient, nil, ErrConnectionNotFound
		}
		return recipient, conn, nil
	}

	active, err := rt.agents.ListActiveByUser(ctx, recipient.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list active connections: %w", err)
	}
	if len(active) == 0 {
		return recipient, nil, ErrConnectionNotFound
	}

	if len(req.RoutingHints.Labels) > 0 {
		if c := firstMatchingLabel(active, req.RoutingHints.Labels); c != nil {
			return recipient, c, nil
		}
	}
	if len(req.RoutingHints.Tags) > 0 {
		if c := firstMatchingTag(active, req.RoutingHints.Tags); c != nil {
			return recipient, c, nil
		}
	}
	return recipient, &active[0], nil
}

func firstMatchingLabel(conns []agent.Connection, labels []string) *agent.Connection {
	for i := range conns {
		if contains(labels, conns[i].Label) {
			return &conns[i]
		}
	}
	return nil
}

func firstMatchingTag(conns []agent.Connection, tags []string) *agent.Connection {
	for i := range conns {
		if conns[i].HasCapability(tags) {
			return &conns[i]
		}
	}
	return nil
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

// ResolveGroupRecipients verifies the sender's active membership and returns, for every other active member, their
// highest-priority active connection (nil when none exists — the caller records a failed child delivery with
// noActiveConnectionReason for those).
func (rt *Router) ResolveGroupRecipients(ctx context.Context, senderID, groupID uuid.UUID) ([]recipientConnection, error) {
	canSend, err := rt.authz.CanSendToGroup(ctx, senderID, groupID)
	if err != nil {
		return nil, fmt.Errorf("check group send authorization: %w", err)
	}
	if !canSend {
		return nil, ErrNotAuthorizedToSend
	}

	members, err := rt.groups.ActiveMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list active group members: %w", err)
	}

	var out []recipientConnection
	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		active, err := rt.agents.ListActiveByUser(ctx, m.UserID)
		if err != nil {
			return nil, fmt.Errorf("list active connections for %s: %w", m.UserID, err)
		}
		rc := recipientConnection{userID: m.UserID}
		if len(active) > 0 {
			rc.connection = &active[0]
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID.String() < out[j].userID.String() })
	return out, nil
}
