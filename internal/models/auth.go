// Package models defines the wire request/response shapes for the /api/v1 HTTP surface described in section 6.
// Modeled on the teacher's uncord-protocol/models package, which is not a fetchable dependency from this workspace
// (see DESIGN.md); reimplemented locally with the same call shape: plain structs with JSON tags, handlers bind
// requests directly into these and build responses from domain entities via small to*Response helpers in
// internal/api.
package models

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName,omitempty"`
}

// RegisterResponse is returned once, at registration, with the plaintext API key.
type RegisterResponse struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	APIKey            string `json:"apiKey"`
	VerificationCode  string `json:"verificationCode"`
	VerificationTweet string `json:"verificationTweet"`
	Verified          bool   `json:"verified"`
}

// VerifyRequest is the body of POST /auth/verify/:userId.
type VerifyRequest struct {
	TwitterHandle string  `json:"twitterHandle"`
	TweetURL      *string `json:"tweetUrl,omitempty"`
}

// VerifyResponse reports the caller's verification state after a verify attempt or lookup.
type VerifyResponse struct {
	UserID          string `json:"userId"`
	TwitterHandle   string `json:"twitterHandle,omitempty"`
	TwitterVerified bool   `json:"twitterVerified"`
}

// RotateKeyResponse carries the newly minted API key, shown once.
type RotateKeyResponse struct {
	APIKey string `json:"apiKey"`
}

// MeResponse describes the authenticated principal.
type MeResponse struct {
	UserID          string  `json:"userId"`
	Username        string  `json:"username"`
	DisplayName     *string `json:"displayName,omitempty"`
	TwitterHandle   *string `json:"twitterHandle,omitempty"`
	TwitterVerified bool    `json:"twitterVerified"`
	CreatedAt       string  `json:"createdAt"`
}
