package models

// RegisterAgentRequest is the body of POST /agents. A repeat call on the same (framework, label) pair upserts the
// connection's metadata and rotates CallbackSecret only when RotateSecret is true.
type RegisterAgentRequest struct {
	Framework       string   `json:"framework"`
	Label           string   `json:"label"`
	Description     *string  `json:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	RoutingPriority int      `json:"routingPriority,omitempty"`
	CallbackURL     string   `json:"callbackUrl"`
	CallbackSecret  *string  `json:"callbackSecret,omitempty"`
	PublicKey       string   `json:"publicKey"`
	PublicKeyAlg    string   `json:"publicKeyAlg"`
	RotateSecret    bool     `json:"rotateSecret,omitempty"`
}

// AgentResponse describes a registered agent connection. CallbackSecret is populated only on the response to a
// registration call that minted or rotated it; it is never included in list responses.
type AgentResponse struct {
	ID              string   `json:"id"`
	Framework       string   `json:"framework"`
	Label           string   `json:"label"`
	Description     *string  `json:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	PublicKey       string   `json:"publicKey"`
	PublicKeyAlg    string   `json:"publicKeyAlg"`
	RoutingPriority int      `json:"routingPriority"`
	CallbackURL     string   `json:"callbackUrl"`
	CallbackSecret  *string  `json:"callbackSecret,omitempty"`
	Status          string   `json:"status"`
	LastSeen        *string  `json:"lastSeen,omitempty"`
	CreatedAt       string   `json:"createdAt"`
}

// ConnectionSummary is the reduced, secret-free connection shape returned by GET /contacts/:username/connections for
// sender-side routing hint discovery.
type ConnectionSummary struct {
	ID              string   `json:"id"`
	Framework       string   `json:"framework"`
	Label           string   `json:"label"`
	Capabilities    []string `json:"capabilities,omitempty"`
	RoutingPriority int      `json:"routingPriority"`
	Status          string   `json:"status"`
}

// PingResponse is returned by POST /agents/:id/ping.
type PingResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen"`
}
