// Package graph models the social graph a message must be authorized against: friendships, groups, group
// memberships, and roles, plus the authorization predicates the router and policy engine consult before a send is
// allowed. Grounded on the teacher's member package (plain entity + Repository interface) generalized from a single
// "server membership" relation to the registry's richer friend/group/role graph.
package graph

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the graph package.
var (
	ErrNotFound            = errors.New("graph record not found")
	ErrForbidden           = errors.New("not authorized to act on this record")
	ErrSelfRequest         = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends      = errors.New("already friends")
	ErrBlocked             = errors.New("this relationship is blocked")
	ErrNotFriends          = errors.New("users are not friends")
	ErrRoleInvalid         = errors.New("role name is invalid or does not belong to this user")
	ErrRoleAlreadyAssigned = errors.New("role is already assigned to this friendship")
	ErrRoleNameTaken       = errors.New("a role with this name already exists for this user")
	ErrGroupNameTaken      = errors.New("group name is already taken")
	ErrNotMember           = errors.New("user is not an active member of this group")
	ErrNotGroupAdmin       = errors.New("owner or admin role required for this group action")
	ErrNotGroupOwner       = errors.New("only the group owner may perform this action")
	ErrAlreadyMember       = errors.New("user is already a member of this group")
	ErrInviteRequired      = errors.New("this group requires an invitation to join")
	ErrTargetNotActive     = errors.New("target user is not an active member of this group")
)

// Friendship statuses.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipBlocked  = "blocked"
)

// Group membership roles and statuses.
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"

	MembershipInvited = "invited"
	MembershipPending = "pending"
	MembershipActive  = "active"
)

// SystemRoles are seeded idempotently at boot and may be assigned to any friendship.
var SystemRoles = []string{"close_friends", "friends", "acquaintances", "work_contacts", "family"}

var customRolePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// IsSystemRole reports whether name is one of the seeded system roles.
func IsSystemRole(name string) bool {
	for _, r := range SystemRoles {
		if r == name {
			return true
		}
	}
	return false
}

// ValidateCustomRoleName checks the shape required of a user-defined role: it must match
// ^[A-Za-z][A-Za-z0-9_]*$ and must not shadow a system role name.
func ValidateCustomRoleName(name string) error {
	if IsSystemRole(name) {
		return errors.New("role name shadows a system role")
	}
	if !customRolePattern.MatchString(name) {
		return errors.New("role name must match ^[A-Za-z][A-Za-z0-9_]*$")
	}
	return nil
}

// Friendship holds the fields read from the friendships table.
type Friendship struct {
	ID          uuid.UUID
	RequesterID uuid.UUID
	AddresseeID uuid.UUID
	Status      string
	CreatedAt   time.Time
}

// OtherUser returns the id on the other side of the friendship from userID.
func (f *Friendship) OtherUser(userID uuid.UUID) uuid.UUID {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// Role holds the fields read from the roles table. UserID is nil for system roles.
type Role struct {
	ID          uuid.UUID
	Name        string
	UserID      *uuid.UUID
	Description string
	IsSystem    bool
	CreatedAt   time.Time
}

// Group holds the fields read from the groups table.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description *string
	OwnerUserID uuid.UUID
	InviteOnly  bool
}

// GroupMembership holds the fields read from the group_memberships table.
type GroupMembership struct {
	GroupID         uuid.UUID
	UserID          uuid.UUID
	Role            string
	Status          string
	InvitedByUserID *uuid.UUID
	CreatedAt       time.Time
}

// GroupMember combines a membership row with the member's public user fields, for listing endpoints.
type GroupMember struct {
	GroupMembership
	Username    string
	DisplayName *string
}

// FriendshipRepository is the data-access contract for friendships and friend-scoped roles.
type FriendshipRepository interface {
	Request(ctx context.Context, requesterID, addresseeID uuid.UUID) (*Friendship, error)
	Accept(ctx context.Context, id, callerID uuid.UUID) (*Friendship, error)
	Reject(ctx context.Context, id, callerID uuid.UUID) error
	Block(ctx context.Context, id, callerID uuid.UUID) (*Friendship, error)
	Unfriend(ctx context.Context, id, callerID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Friendship, error)
	GetBetween(ctx context.Context, a, b uuid.UUID) (*Friendship, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status string) ([]Friendship, error)
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)

	AssignRole(ctx context.Context, friendshipID uuid.UUID, roleName string) error
	RemoveRole(ctx context.Context, friendshipID uuid.UUID, roleName string) error
	ListRoles(ctx context.Context, friendshipID uuid.UUID) ([]string, error)
	RolesForFriendOf(ctx context.Context, ownerID, friendID uuid.UUID) ([]string, error)
}

// RoleRepository is the data-access contract for user-defined roles (system roles are seeded once at boot and read
// through the same table).
type RoleRepository interface {
	SeedSystemRoles(ctx context.Context) error
	Create(ctx context.Context, ownerID uuid.UUID, name, description string) (*Role, error)
	ListSystem(ctx context.Context) ([]Role, error)
	ListCustom(ctx context.Context, ownerID uuid.UUID) ([]Role, error)
	IsValidForOwner(ctx context.Context, ownerID uuid.UUID, name string) (bool, error)
}

// GroupRepository is the data-access contract for groups and group memberships.
type GroupRepository interface {
	Create(ctx context.Context, ownerID uuid.UUID, name string, description *string, inviteOnly bool) (*Group, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Group, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Group, error)
	Delete(ctx context.Context, id uuid.UUID) error

	Invite(ctx context.Context, groupID, userID, invitedBy uuid.UUID) error
	Join(ctx context.Context, groupID, userID uuid.UUID) (*GroupMembership, error)
	Leave(ctx context.Context, groupID, userID uuid.UUID) (groupDeleted bool, err error)
	Transfer(ctx context.Context, groupID, currentOwnerID, newOwnerID uuid.UUID) error
	Members(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error)
	ActiveMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMembership, error)
	GetMembership(ctx context.Context, groupID, userID uuid.UUID) (*GroupMembership, error)
}

// Authorizer bundles the graph's authorization predicates (spec section 4.2) for use by the router and policy
// engine.
type Authorizer struct {
	friendships FriendshipRepository
	groups      GroupRepository
}

// NewAuthorizer creates an Authorizer over the given repositories.
func NewAuthorizer(friendships FriendshipRepository, groups GroupRepository) *Authorizer {
	return &Authorizer{friendships: friendships, groups: groups}
}

// CanSendToUser reports whether a may send a message to b: they must be friends.
func (a *Authorizer) CanSendToUser(ctx context.Context, sender, recipient uuid.UUID) (bool, error) {
	return a.friendships.AreFriends(ctx, sender, recipient)
}

// CanSendToGroup reports whether user has an active membership in group.
func (a *Authorizer) CanSendToGroup(ctx context.Context, user, group uuid.UUID) (bool, error) {
	m, err := a.groups.GetMembership(ctx, group, user)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Status == MembershipActive, nil
}

// CanManageGroupPolicy reports whether user is an active owner or admin of group.
func (a *Authorizer) CanManageGroupPolicy(ctx context.Context, user, group uuid.UUID) (bool, error) {
	m, err := a.groups.GetMembership(ctx, group, user)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Status == MembershipActive && (m.Role == MemberRoleOwner || m.Role == MemberRoleAdmin), nil
}
