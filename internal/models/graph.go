package models

// FriendRequestRequest is the body of POST /friends/request.
type FriendRequestRequest struct {
	Username string `json:"username"`
}

// FriendshipResponse describes a friendship row from the caller's perspective.
type FriendshipResponse struct {
	ID            string   `json:"id"`
	RequesterID   string   `json:"requesterId"`
	AddresseeID   string   `json:"addresseeId"`
	OtherUsername string   `json:"otherUsername,omitempty"`
	Status        string   `json:"status"`
	Roles         []string `json:"roles,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

// AssignRoleRequest is the body of POST /friends/:friendshipId/roles.
type AssignRoleRequest struct {
	Role string `json:"role"`
}

// CreateRoleRequest is the body of POST /roles.
type CreateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoleResponse describes a system or custom role.
type RoleResponse struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsSystem    bool   `json:"isSystem"`
}

// CreateGroupRequest is the body of POST /groups.
type CreateGroupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	InviteOnly  bool    `json:"inviteOnly,omitempty"`
}

// GroupResponse describes a group.
type GroupResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	OwnerUserID string  `json:"ownerUserId"`
	InviteOnly  bool    `json:"inviteOnly"`
}

// InviteRequest is the body of POST /groups/:id/invite.
type InviteRequest struct {
	Username string `json:"username"`
}

// TransferRequest is the body of POST /groups/:id/transfer.
type TransferRequest struct {
	NewOwnerUserID string `json:"newOwnerUserId"`
}

// GroupMemberResponse describes one row of GET /groups/:id/members.
type GroupMemberResponse struct {
	UserID      string  `json:"userId"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName,omitempty"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
}

// LeaveGroupResponse reports whether leaving deleted the group (the owner was the last active member).
type LeaveGroupResponse struct {
	GroupDeleted bool `json:"groupDeleted"`
}
