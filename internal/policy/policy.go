// Package policy implements the registry's per-sender message policies: CRUD with scope/target validation, and the
// evaluation funnel the router consults before a plaintext send is allowed through. Grounded on the teacher's
// permission package — a layered compute funnel (owner bypass / role union / overrides) generalized here to a
// scope-ordered policy list terminating on first failure, rather than a permission bitfield.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the policy package.
var (
	ErrNotFound          = errors.New("policy not found")
	ErrForbidden         = errors.New("not authorized to manage this policy")
	ErrInvalidScope      = errors.New("invalid policy scope")
	ErrInvalidType       = errors.New("invalid policy type")
	ErrTargetRequired    = errors.New("this scope requires a targetId")
	ErrTargetForbidden   = errors.New("scope=global requires a null targetId")
	ErrTargetNotFound    = errors.New("policy target does not exist or is not usable by this owner")
	ErrInvalidContent    = errors.New("policy content is invalid")
)

// Scopes a policy may apply at.
const (
	ScopeGlobal = "global"
	ScopeUser   = "user"
	ScopeGroup  = "group"
	ScopeRole   = "role"
)

// Policy types.
const (
	TypeHeuristic = "heuristic"
	TypeLLM       = "llm"
)

func isValidScope(s string) bool {
	switch s {
	case ScopeGlobal, ScopeUser, ScopeGroup, ScopeRole:
		return true
	default:
		return false
	}
}

func isValidType(t string) bool {
	return t == TypeHeuristic || t == TypeLLM
}

// Policy holds the fields read from the policies table.
type Policy struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Scope         string
	TargetID      *string
	PolicyType    string
	PolicyContent string
	Priority      int
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HeuristicContent is the parsed shape of a heuristic policy's policyContent JSON object.
type HeuristicContent struct {
	MaxLength         *int     `json:"maxLength,omitempty"`
	MinLength         *int     `json:"minLength,omitempty"`
	BlockedPatterns   []string `json:"blockedPatterns,omitempty"`
	RequiredPatterns  []string `json:"requiredPatterns,omitempty"`
	RequireContext    bool     `json:"requireContext,omitempty"`
	BlockedRecipients []string `json:"blockedRecipients,omitempty"`
	TrustedRecipients []string `json:"trustedRecipients,omitempty"`
}

// ParseHeuristicContent unmarshals and validates a heuristic policy's content: it must parse as JSON, every
// blockedPatterns/requiredPatterns entry must compile as a regex, and maxLength/minLength must be non-negative.
func ParseHeuristicContent(raw string) (*HeuristicContent, error) {
	var hc HeuristicContent
	if err := json.Unmarshal([]byte(raw), &hc); err != nil {
		return nil, fmt.Errorf("%w: not a valid JSON object: %v", ErrInvalidContent, err)
	}
	if hc.MaxLength != nil && *hc.MaxLength < 0 {
		return nil, fmt.Errorf("%w: maxLength must be non-negative", ErrInvalidContent)
	}
	if hc.MinLength != nil && *hc.MinLength < 0 {
		return nil, fmt.Errorf("%w: minLength must be non-negative", ErrInvalidContent)
	}
	for _, p := range hc.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: blockedPatterns %q does not compile: %v", ErrInvalidContent, p, err)
		}
	}
	for _, p := range hc.RequiredPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: requiredPatterns %q does not compile: %v", ErrInvalidContent, p, err)
		}
	}
	return &hc, nil
}

// ValidateLLMContent requires a non-empty, trimmed prompt string.
func ValidateLLMContent(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: llm policy content must be a non-empty prompt", ErrInvalidContent)
	}
	return nil
}

// Validate checks policyType/policyContent together, per the rules in ParseHeuristicContent / ValidateLLMContent.
func Validate(policyType, policyContent string) error {
	if !isValidType(policyType) {
		return fmt.Errorf("%w: %q", ErrInvalidType, policyType)
	}
	switch policyType {
	case TypeHeuristic:
		_, err := ParseHeuristicContent(policyContent)
		return err
	case TypeLLM:
		return ValidateLLMContent(policyContent)
	}
	return nil
}

// TargetChecker resolves whether a scope's targetId is usable by owner, used by CreateParams validation before
// persistence. The router/api layer supplies the concrete implementation backed by the graph and user packages.
type TargetChecker interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	IsGroupAdminOrOwner(ctx context.Context, ownerID uuid.UUID, groupID string) (bool, error)
	IsValidRoleForOwner(ctx context.Context, ownerID uuid.UUID, roleName string) (bool, error)
}

// CreateParams carries the inputs to Create/Update before a TargetID/content have been validated.
type CreateParams struct {
	OwnerID       uuid.UUID
	Scope         string
	TargetID      *string
	PolicyType    string
	PolicyContent string
	Priority      int
	Enabled       bool
}

// ValidateScopeAndTarget checks scope validity, scope/targetId consistency (global forbids a target; every other
// scope requires one), and that the target itself exists/is usable by owner.
func ValidateScopeAndTarget(ctx context.Context, p CreateParams, checker TargetChecker) error {
	if !isValidScope(p.Scope) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, p.Scope)
	}
	if p.Scope == ScopeGlobal {
		if p.TargetID != nil {
			return ErrTargetForbidden
		}
		return nil
	}
	if p.TargetID == nil || strings.TrimSpace(*p.TargetID) == "" {
		return ErrTargetRequired
	}

	switch p.Scope {
	case ScopeUser:
		ok, err := checker.UserExists(ctx, *p.TargetID)
		if err != nil {
			return fmt.Errorf("check target user: %w", err)
		}
		if !ok {
			return ErrTargetNotFound
		}
	case ScopeGroup:
		ok, err := checker.IsGroupAdminOrOwner(ctx, p.OwnerID, *p.TargetID)
		if err != nil {
			return fmt.Errorf("check group admin: %w", err)
		}
		if !ok {
			return ErrTargetNotFound
		}
	case ScopeRole:
		ok, err := checker.IsValidRoleForOwner(ctx, p.OwnerID, *p.TargetID)
		if err != nil {
			return fmt.Errorf("check role validity: %w", err)
		}
		if !ok {
			return ErrTargetNotFound
		}
	}
	return nil
}
