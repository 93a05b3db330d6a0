package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/notify"
	"github.com/mahilo/registry/internal/user"
)

// GroupHandler serves group lifecycle, membership, and ownership transfer.
type GroupHandler struct {
	groups   graph.GroupRepository
	users    user.Repository
	authz    *graph.Authorizer
	notifier *notify.Publisher
	log      zerolog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(groups graph.GroupRepository, users user.Repository, authz *graph.Authorizer, notifier *notify.Publisher, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, users: users, authz: authz, notifier: notifier, log: logger}
}

// Create handles POST /groups.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.CreateGroupRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	if body.Name == "" {
		return httputil.Fail(c, apierrors.Validation, "name is required")
	}

	g, err := h.groups.Create(c, principal.UserID, body.Name, body.Description, body.InviteOnly)
	if err != nil {
		if errors.Is(err, graph.ErrGroupNameTaken) {
			return httputil.Fail(c, apierrors.Conflict, "Group name is already taken")
		}
		h.log.Error().Err(err).Msg("create group failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toGroupResponse(g))
}

// List handles GET /groups: every group the caller has any membership row in.
func (h *GroupHandler) List(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	groups, err := h.groups.ListForUser(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("list groups failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	out := make([]models.GroupResponse, len(groups))
	for i := range groups {
		out[i] = toGroupResponse(&groups[i])
	}
	return httputil.Success(c, out)
}

// Get handles GET /groups/:id.
func (h *GroupHandler) Get(c fiber.Ctx) error {
	if _, err := principalOrUnauthorized(c); err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	g, err := h.groups.GetByID(c, id)
	if err != nil {
		return h.mapGroupError(c, err)
	}
	return httputil.Success(c, toGroupResponse(g))
}

// Invite handles POST /groups/:id/invite.
func (h *GroupHandler) Invite(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	canManage, err := h.authz.CanManageGroupPolicy(c, principal.UserID, id)
	if err != nil {
		h.log.Error().Err(err).Msg("check group admin failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	if !canManage {
		return httputil.Fail(c, apierrors.Forbidden, "Owner or admin role required to invite members")
	}

	var body models.InviteRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	invitee, err := h.users.GetByUsername(c, body.Username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "User not found")
		}
		h.log.Error().Err(err).Msg("look up invitee failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	if err := h.groups.Invite(c, id, invitee.ID, principal.UserID); err != nil {
		return h.mapGroupError(c, err)
	}

	g, err := h.groups.GetByID(c, id)
	if err == nil {
		h.notifier.Publish(c, invitee.ID, notify.EventGroupInvite, notify.GroupInvitePayload{
			GroupID: g.ID.String(), GroupName: g.Name, InvitedBy: principal.Username,
		})
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, nil)
}

// Join handles POST /groups/:id/join.
func (h *GroupHandler) Join(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	m, err := h.groups.Join(c, id, principal.UserID)
	if err != nil {
		return h.mapGroupError(c, err)
	}
	return httputil.Success(c, toMembershipResponse(m, principal.Username, nil))
}

// Leave handles DELETE /groups/:id/leave.
func (h *GroupHandler) Leave(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	deleted, err := h.groups.Leave(c, id, principal.UserID)
	if err != nil {
		return h.mapGroupError(c, err)
	}
	return httputil.Success(c, models.LeaveGroupResponse{GroupDeleted: deleted})
}

// Transfer handles POST /groups/:id/transfer.
func (h *GroupHandler) Transfer(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var body models.TransferRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	newOwnerID, err := uuid.Parse(body.NewOwnerUserID)
	if err != nil {
		return httputil.Fail(c, apierrors.Validation, "newOwnerUserId is not a valid id")
	}

	if err := h.groups.Transfer(c, id, principal.UserID, newOwnerID); err != nil {
		return h.mapGroupError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Delete handles DELETE /groups/:id: only the owner may delete a group directly.
func (h *GroupHandler) Delete(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	g, err := h.groups.GetByID(c, id)
	if err != nil {
		return h.mapGroupError(c, err)
	}
	if g.OwnerUserID != principal.UserID {
		return httputil.Fail(c, apierrors.Forbidden, "Only the group owner may delete this group")
	}

	if err := h.groups.Delete(c, id); err != nil {
		return h.mapGroupError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Members handles GET /groups/:id/members.
func (h *GroupHandler) Members(c fiber.Ctx) error {
	if _, err := principalOrUnauthorized(c); err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	members, err := h.groups.Members(c, id)
	if err != nil {
		h.log.Error().Err(err).Msg("list group members failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	out := make([]models.GroupMemberResponse, len(members))
	for i := range members {
		out[i] = models.GroupMemberResponse{
			UserID:      members[i].UserID.String(),
			Username:    members[i].Username,
			DisplayName: members[i].DisplayName,
			Role:        members[i].Role,
			Status:      members[i].Status,
			CreatedAt:   formatTime(members[i].CreatedAt),
		}
	}
	return httputil.Success(c, out)
}

func (h *GroupHandler) mapGroupError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Group not found")
	case errors.Is(err, graph.ErrGroupNameTaken):
		return httputil.Fail(c, apierrors.Conflict, "Group name is already taken")
	case errors.Is(err, graph.ErrAlreadyMember):
		return httputil.Fail(c, apierrors.Conflict, "Already a member of this group")
	case errors.Is(err, graph.ErrInviteRequired):
		return httputil.Fail(c, apierrors.Forbidden, "This group requires an invitation to join")
	case errors.Is(err, graph.ErrNotMember):
		return httputil.Fail(c, apierrors.Forbidden, "Not an active member of this group")
	case errors.Is(err, graph.ErrNotGroupOwner):
		return httputil.Fail(c, apierrors.Forbidden, "Only the group owner may perform this action")
	case errors.Is(err, graph.ErrTargetNotActive):
		return httputil.Fail(c, apierrors.Validation, "Target user is not an active member of this group")
	default:
		h.log.Error().Err(err).Msg("group operation failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

func toGroupResponse(g *graph.Group) models.GroupResponse {
	return models.GroupResponse{
		ID: g.ID.String(), Name: g.Name, Description: g.Description,
		OwnerUserID: g.OwnerUserID.String(), InviteOnly: g.InviteOnly,
	}
}

func toMembershipResponse(m *graph.GroupMembership, username string, displayName *string) models.GroupMemberResponse {
	return models.GroupMemberResponse{
		UserID: m.UserID.String(), Username: username, DisplayName: displayName,
		Role: m.Role, Status: m.Status, CreatedAt: formatTime(m.CreatedAt),
	}
}
