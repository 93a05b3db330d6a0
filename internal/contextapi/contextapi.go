// Package contextapi implements the Context API described in section 4.7: a pre-send/pre-reply snapshot an agent can
// fetch before composing a reply, combining the Graph's relationship data, the Policy Engine's scope filter, and
// recent message history. Grounded on the teacher's handler-orchestration shape (internal/api/message.go): a thin
// service composing already-built repositories rather than owning its own storage.
package contextapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/policy"
	"github.com/mahilo/registry/internal/user"
)

// ErrNotFriends is returned when the requester and the named recipient are not friends; section 4.7 specifies this
// maps to a 404 at the HTTP layer (the recipient's relationship data is not visible to a non-friend).
var ErrNotFriends = errors.New("requester and recipient are not friends")

// recentInteractionsLimit bounds recentInteractions to the last 5 messages, per section 4.7.
const recentInteractionsLimit = 5

// Recipient describes the named recipient's relationship to the requester.
type Recipient struct {
	Username         string
	DisplayName      *string
	Relationship     string
	FriendshipID     uuid.UUID
	Roles            []string
	ConnectedSince   string
	InteractionCount int
}

// Preview is the full context(recipient) snapshot returned to an agent.
type Preview struct {
	Recipient           Recipient
	ApplicablePolicies  []policy.Policy
	Summary             string
	RecentInteractions  []message.Message
}

// Service builds context previews from the already-built Graph, Policy, and Message components.
type Service struct {
	users       user.Repository
	friendships graph.FriendshipRepository
	policies    policy.Repository
	messages    message.Repository
}

// New builds a context preview Service.
func New(users user.Repository, friendships graph.FriendshipRepository, policies policy.Repository, messages message.Repository) *Service {
	return &Service{users: users, friendships: friendships, policies: policies, messages: messages}
}

// Preview builds the full pre-send/pre-reply snapshot for requesterID's relationship with recipientUsername.
func (s *Service) Preview(ctx context.Context, requesterID uuid.UUID, recipientUsername string) (*Preview, error) {
	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("look up requester: %w", err)
	}

	recipient, err := s.users.GetByUsername(ctx, recipientUsername)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrNotFriends
		}
		return nil, fmt.Errorf("look up recipient: %w", err)
	}

	friendship, err := s.friendships.GetBetween(ctx, requesterID, recipient.ID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, ErrNotFriends
		}
		return nil, fmt.Errorf("look up friendship: %w", err)
	}
	if friendship.Status != graph.FriendshipAccepted {
		return nil, ErrNotFriends
	}

	roles, err := s.friendships.ListRoles(ctx, friendship.ID)
	if err != nil {
		return nil, fmt.Errorf("list friend roles: %w", err)
	}

	self := message.Participant{UserID: requesterID, Username: requester.Username}
	other := message.Participant{UserID: recipient.ID, Username: recipient.Username}

	interactionCount, err := s.messages.CountBetween(ctx, self, other)
	if err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}
	recent, err := s.messages.RecentBetween(ctx, self, other, recentInteractionsLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent interactions: %w", err)
	}

	applicable, err := s.policies.ScopeFilterForUser(ctx, requesterID, recipient.ID.String(), roles)
	if err != nil {
		return nil, fmt.Errorf("scope filter policies: %w", err)
	}

	return &Preview{
		Recipient: Recipient{
			Username:         recipient.Username,
			DisplayName:      recipient.DisplayName,
			Relationship:     graph.FriendshipAccepted,
			FriendshipID:     friendship.ID,
			Roles:            roles,
			ConnectedSince:   friendship.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			InteractionCount: interactionCount,
		},
		ApplicablePolicies: applicable,
		Summary:            summarize(recipient.Username, roles, interactionCount, len(applicable)),
		RecentInteractions: recent,
	}, nil
}

// summarize produces the natural-language one-liner section 4.7 calls for in the preview response.
func summarize(username string, roles []string, interactionCount, policyCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are friends with %s", username)
	if len(roles) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(roles, ", "))
	}
	fmt.Fprintf(&sb, " with %d prior interaction", interactionCount)
	if interactionCount != 1 {
		sb.WriteString("s")
	}
	if policyCount > 0 {
		fmt.Fprintf(&sb, "; %d policy rule(s) apply to this conversation", policyCount)
	}
	sb.WriteString(".")
	return sb.String()
}
