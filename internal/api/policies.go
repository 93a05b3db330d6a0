package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/policy"
	"github.com/mahilo/registry/internal/user"
)

// PolicyHandler serves CRUD over a caller's own send policies.
type PolicyHandler struct {
	policies policy.Repository
	checker  policy.TargetChecker
	log      zerolog.Logger
}

// NewPolicyHandler creates a PolicyHandler. checker resolves whether a scope's targetId is usable by the caller,
// backed concretely by graphTargetChecker.
func NewPolicyHandler(policies policy.Repository, checker policy.TargetChecker, logger zerolog.Logger) *PolicyHandler {
	return &PolicyHandler{policies: policies, checker: checker, log: logger}
}

// graphTargetChecker implements policy.TargetChecker against the user and graph repositories.
type graphTargetChecker struct {
	users  user.Repository
	groups graph.GroupRepository
	roles  graph.RoleRepository
	authz  *graph.Authorizer
}

// NewGraphTargetChecker builds the concrete policy.TargetChecker used to validate scope=user/group/role targets.
func NewGraphTargetChecker(users user.Repository, groups graph.GroupRepository, roles graph.RoleRepository, authz *graph.Authorizer) policy.TargetChecker {
	return &graphTargetChecker{users: users, groups: groups, roles: roles, authz: authz}
}

func (c *graphTargetChecker) UserExists(ctx context.Context, userID string) (bool, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	if _, err := c.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *graphTargetChecker) IsGroupAdminOrOwner(ctx context.Context, ownerID uuid.UUID, groupID string) (bool, error) {
	id, err := uuid.Parse(groupID)
	if err != nil {
		return false, nil
	}
	return c.authz.CanManageGroupPolicy(ctx, ownerID, id)
}

func (c *graphTargetChecker) IsValidRoleForOwner(ctx context.Context, ownerID uuid.UUID, roleName string) (bool, error) {
	return c.roles.IsValidForOwner(ctx, ownerID, roleName)
}

// Create handles POST /policies.
func (h *PolicyHandler) Create(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.CreatePolicyRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	if err := policy.Validate(body.PolicyType, body.PolicyContent); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}

	params := policy.CreateParams{
		OwnerID: principal.UserID, Scope: body.Scope, TargetID: body.TargetID,
		PolicyType: body.PolicyType, PolicyContent: body.PolicyContent, Priority: body.Priority, Enabled: enabled,
	}
	if err := policy.ValidateScopeAndTarget(c, params, h.checker); err != nil {
		return h.mapValidationError(c, err)
	}

	p, err := h.policies.Create(c, params)
	if err != nil {
		h.log.Error().Err(err).Msg("create policy failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toPolicyResponse(p))
}

// List handles GET /policies?scope=&targetId= — every policy the caller owns, optionally filtered in memory by
// scope and/or targetId.
func (h *PolicyHandler) List(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	all, err := h.policies.ListForOwner(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("list policies failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	scope := c.Query("scope")
	targetID := c.Query("targetId")
	out := make([]models.PolicyResponse, 0, len(all))
	for i := range all {
		p := &all[i]
		if scope != "" && p.Scope != scope {
			continue
		}
		if targetID != "" && (p.TargetID == nil || *p.TargetID != targetID) {
			continue
		}
		out = append(out, toPolicyResponse(p))
	}
	return httputil.Success(c, out)
}

// Update handles PATCH /policies/:id. Fields the caller omits keep their stored value.
func (h *PolicyHandler) Update(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.policies.GetByID(c, id)
	if err != nil {
		return h.mapPolicyError(c, err)
	}
	if existing.UserID != principal.UserID {
		return httputil.Fail(c, apierrors.Forbidden, "Not authorized to manage this policy")
	}

	var body models.CreatePolicyRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	params := policy.CreateParams{
		OwnerID: principal.UserID, Scope: existing.Scope, TargetID: existing.TargetID,
		PolicyType: existing.PolicyType, PolicyContent: existing.PolicyContent,
		Priority: existing.Priority, Enabled: existing.Enabled,
	}
	if body.Scope != "" {
		params.Scope = body.Scope
	}
	if body.TargetID != nil {
		params.TargetID = body.TargetID
	}
	if body.PolicyType != "" {
		params.PolicyType = body.PolicyType
	}
	if body.PolicyContent != "" {
		params.PolicyContent = body.PolicyContent
	}
	if body.Priority != 0 {
		params.Priority = body.Priority
	}
	if body.Enabled != nil {
		params.Enabled = *body.Enabled
	}

	if err := policy.Validate(params.PolicyType, params.PolicyContent); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}
	if err := policy.ValidateScopeAndTarget(c, params, h.checker); err != nil {
		return h.mapValidationError(c, err)
	}

	updated, err := h.policies.Update(c, id, params)
	if err != nil {
		return h.mapPolicyError(c, err)
	}
	return httputil.Success(c, toPolicyResponse(updated))
}

// Delete handles DELETE /policies/:id.
func (h *PolicyHandler) Delete(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.policies.GetByID(c, id)
	if err != nil {
		return h.mapPolicyError(c, err)
	}
	if existing.UserID != principal.UserID {
		return httputil.Fail(c, apierrors.Forbidden, "Not authorized to manage this policy")
	}

	if err := h.policies.Delete(c, id); err != nil {
		return h.mapPolicyError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

func (h *PolicyHandler) mapPolicyError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, policy.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Policy not found")
	default:
		h.log.Error().Err(err).Msg("policy operation failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

func (h *PolicyHandler) mapValidationError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, policy.ErrInvalidScope), errors.Is(err, policy.ErrTargetRequired),
		errors.Is(err, policy.ErrTargetForbidden), errors.Is(err, policy.ErrInvalidContent),
		errors.Is(err, policy.ErrInvalidType):
		return httputil.Fail(c, apierrors.Validation, err.Error())
	case errors.Is(err, policy.ErrTargetNotFound):
		return httputil.Fail(c, apierrors.Validation, err.Error())
	default:
		h.log.Error().Err(err).Msg("validate policy scope/target failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

func toPolicyResponse(p *policy.Policy) models.PolicyResponse {
	return models.PolicyResponse{
		ID: p.ID.String(), Scope: p.Scope, TargetID: p.TargetID, PolicyType: p.PolicyType,
		PolicyContent: p.PolicyContent, Priority: p.Priority, Enabled: p.Enabled,
		CreatedAt: formatTime(p.CreatedAt), UpdatedAt: formatTime(p.UpdatedAt),
	}
}
