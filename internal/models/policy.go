package models

// CreatePolicyRequest is the body of POST /policies and PATCH /policies/:id. Enabled defaults to true when nil on
// create; PATCH only applies the fields the caller actually set (see internal/api's partial-update handling).
type CreatePolicyRequest struct {
	Scope         string  `json:"scope"`
	TargetID      *string `json:"targetId,omitempty"`
	PolicyType    string  `json:"policyType"`
	PolicyContent string  `json:"policyContent"`
	Priority      int     `json:"priority,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// PolicyResponse describes a stored policy.
type PolicyResponse struct {
	ID            string  `json:"id"`
	Scope         string  `json:"scope"`
	TargetID      *string `json:"targetId,omitempty"`
	PolicyType    string  `json:"policyType"`
	PolicyContent string  `json:"policyContent"`
	Priority      int     `json:"priority"`
	Enabled       bool    `json:"enabled"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

// ContextRecipientResponse is the "recipient" field of a context(recipient) preview.
type ContextRecipientResponse struct {
	Username         string  `json:"username"`
	DisplayName      *string `json:"displayName,omitempty"`
	Relationship     string  `json:"relationship"`
	FriendshipID     string  `json:"friendshipId"`
	Roles            []string `json:"roles"`
	ConnectedSince   string  `json:"connectedSince"`
	InteractionCount int     `json:"interactionCount"`
}

// ContextResponse is the full GET /policies/context/:username preview.
type ContextResponse struct {
	Recipient          ContextRecipientResponse `json:"recipient"`
	ApplicablePolicies []PolicyResponse         `json:"applicablePolicies"`
	Summary            string                   `json:"summary"`
	RecentInteractions []MessageResponse        `json:"recentInteractions"`
}
