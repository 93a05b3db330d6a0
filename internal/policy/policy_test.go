package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mahilo/registry/internal/policy"
)

func TestParseHeuristicContent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "valid", content: `{"maxLength":500,"blockedPatterns":["secret"]}`, wantErr: false},
		{name: "not json", content: `not json`, wantErr: true},
		{name: "bad regex", content: `{"blockedPatterns":["(invalid"]}`, wantErr: true},
		{name: "negative maxLength", content: `{"maxLength":-1}`, wantErr: true},
		{name: "negative minLength", content: `{"minLength":-1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := policy.ParseHeuristicContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseHeuristicContent(%q) error = %v, wantErr %v", tt.content, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLLMContent(t *testing.T) {
	t.Parallel()
	if err := policy.ValidateLLMContent("  "); err == nil {
		t.Error("expected an error for a blank prompt")
	}
	if err := policy.ValidateLLMContent("reject anything hostile"); err != nil {
		t.Errorf("unexpected error for a valid prompt: %v", err)
	}
}

type fakeTargetChecker struct {
	userExists bool
	groupAdmin bool
	validRole  bool
}

func (f fakeTargetChecker) UserExists(ctx context.Context, userID string) (bool, error) {
	return f.userExists, nil
}

func (f fakeTargetChecker) IsGroupAdminOrOwner(ctx context.Context, ownerID uuid.UUID, groupID string) (bool, error) {
	return f.groupAdmin, nil
}

func (f fakeTargetChecker) IsValidRoleForOwner(ctx context.Context, ownerID uuid.UUID, roleName string) (bool, error) {
	return f.validRole, nil
}

func TestValidateScopeAndTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	owner := uuid.New()
	target := "some-target"

	t.Run("global forbids targetId", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeGlobal, TargetID: &target}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{}); err != policy.ErrTargetForbidden {
			t.Errorf("err = %v, want ErrTargetForbidden", err)
		}
	})

	t.Run("global with no target is fine", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeGlobal}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("user scope requires targetId", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeUser}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{}); err != policy.ErrTargetRequired {
			t.Errorf("err = %v, want ErrTargetRequired", err)
		}
	})

	t.Run("user scope target must exist", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeUser, TargetID: &target}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{userExists: false}); err != policy.ErrTargetNotFound {
			t.Errorf("err = %v, want ErrTargetNotFound", err)
		}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{userExists: true}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("group scope requires owner/admin", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeGroup, TargetID: &target}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{groupAdmin: false}); err != policy.ErrTargetNotFound {
			t.Errorf("err = %v, want ErrTargetNotFound", err)
		}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{groupAdmin: true}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("role scope requires a valid role", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: policy.ScopeRole, TargetID: &target}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{validRole: false}); err != policy.ErrTargetNotFound {
			t.Errorf("err = %v, want ErrTargetNotFound", err)
		}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{validRole: true}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("invalid scope rejected", func(t *testing.T) {
		t.Parallel()
		p := policy.CreateParams{OwnerID: owner, Scope: "nonsense"}
		if err := policy.ValidateScopeAndTarget(ctx, p, fakeTargetChecker{}); !errors.Is(err, policy.ErrInvalidScope) {
			t.Errorf("err = %v, want ErrInvalidScope", err)
		}
	})
}
