package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/notify"
	"github.com/mahilo/registry/internal/user"
)

// FriendHandler serves friend-request lifecycle and friendship-scoped role assignment.
type FriendHandler struct {
	friendships graph.FriendshipRepository
	users       user.Repository
	notifier    *notify.Publisher
	log         zerolog.Logger
}

// NewFriendHandler creates a FriendHandler.
func NewFriendHandler(friendships graph.FriendshipRepository, users user.Repository, notifier *notify.Publisher, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{friendships: friendships, users: users, notifier: notifier, log: logger}
}

// Request handles POST /friends/request.
func (h *FriendHandler) Request(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.FriendRequestRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	addressee, err := h.users.GetByUsername(c, body.Username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "User not found")
		}
		h.log.Error().Err(err).Msg("look up addressee failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	f, err := h.friendships.Request(c, principal.UserID, addressee.ID)
	if err != nil {
		return h.mapFriendshipError(c, err)
	}

	if f.Status == graph.FriendshipPending {
		h.notifier.Publish(c, addressee.ID, notify.EventFriendRequest, notify.FriendRequestPayload{
			FriendshipID: f.ID.String(),
			FromUsername: principal.Username,
		})
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toFriendshipResponse(f, nil))
}

// Accept handles POST /friends/:id/accept.
func (h *FriendHandler) Accept(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	f, err := h.friendships.Accept(c, id, principal.UserID)
	if err != nil {
		return h.mapFriendshipError(c, err)
	}
	return httputil.Success(c, toFriendshipResponse(f, nil))
}

// Reject handles POST /friends/:id/reject.
func (h *FriendHandler) Reject(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.friendships.Reject(c, id, principal.UserID); err != nil {
		return h.mapFriendshipError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Block handles POST /friends/:id/block.
func (h *FriendHandler) Block(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	f, err := h.friendships.Block(c, id, principal.UserID)
	if err != nil {
		return h.mapFriendshipError(c, err)
	}
	return httputil.Success(c, toFriendshipResponse(f, nil))
}

// Delete handles DELETE /friends/:id (unfriend).
func (h *FriendHandler) Delete(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.friendships.Unfriend(c, id, principal.UserID); err != nil {
		return h.mapFriendshipError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// List handles GET /friends?status=….
func (h *FriendHandler) List(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	friendships, err := h.friendships.ListForUser(c, principal.UserID, c.Query("status"))
	if err != nil {
		h.log.Error().Err(err).Msg("list friendships failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	out := make([]models.FriendshipResponse, len(friendships))
	for i := range friendships {
		other, err := h.users.GetByID(c, friendships[i].OtherUser(principal.UserID))
		var otherUsername string
		if err == nil {
			otherUsername = other.Username
		}
		roles, err := h.friendships.ListRoles(c, friendships[i].ID)
		if err != nil {
			h.log.Error().Err(err).Msg("list friendship roles failed")
			return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
		}
		resp := toFriendshipResponse(&friendships[i], roles)
		resp.OtherUsername = otherUsername
		out[i] = resp
	}
	return httputil.Success(c, out)
}

// ListRoles handles GET /friends/:friendshipId/roles.
func (h *FriendHandler) ListRoles(c fiber.Ctx) error {
	if _, err := principalOrUnauthorized(c); err != nil {
		return err
	}
	id, err := uuidParam(c, "friendshipId")
	if err != nil {
		return err
	}

	roles, err := h.friendships.ListRoles(c, id)
	if err != nil {
		h.log.Error().Err(err).Msg("list friendship roles failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.Success(c, roles)
}

// AssignRole handles POST /friends/:friendshipId/roles.
func (h *FriendHandler) AssignRole(c fiber.Ctx) error {
	if _, err := principalOrUnauthorized(c); err != nil {
		return err
	}
	id, err := uuidParam(c, "friendshipId")
	if err != nil {
		return err
	}

	var body models.AssignRoleRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	if err := h.friendships.AssignRole(c, id, body.Role); err != nil {
		return h.mapRoleAssignmentError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, nil)
}

// RemoveRole handles DELETE /friends/:friendshipId/roles/:role.
func (h *FriendHandler) RemoveRole(c fiber.Ctx) error {
	if _, err := principalOrUnauthorized(c); err != nil {
		return err
	}
	id, err := uuidParam(c, "friendshipId")
	if err != nil {
		return err
	}

	if err := h.friendships.RemoveRole(c, id, c.Params("role")); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "Role is not assigned to this friendship")
		}
		h.log.Error().Err(err).Msg("remove friendship role failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

func (h *FriendHandler) mapFriendshipError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, graph.ErrSelfRequest):
		return httputil.Fail(c, apierrors.Validation, "Cannot send a friend request to yourself")
	case errors.Is(err, graph.ErrAlreadyFriends):
		return httputil.Fail(c, apierrors.Conflict, "Already friends")
	case errors.Is(err, graph.ErrBlocked):
		return httputil.Fail(c, apierrors.Forbidden, "This relationship is blocked")
	case errors.Is(err, graph.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Friendship not found")
	case errors.Is(err, graph.ErrForbidden):
		return httputil.Fail(c, apierrors.Forbidden, "Not authorized to act on this friendship")
	default:
		h.log.Error().Err(err).Msg("friendship operation failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

func (h *FriendHandler) mapRoleAssignmentError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, graph.ErrRoleInvalid):
		return httputil.Fail(c, apierrors.Validation, "Role name is invalid or does not belong to this user")
	case errors.Is(err, graph.ErrRoleAlreadyAssigned):
		return httputil.Fail(c, apierrors.Conflict, "Role is already assigned to this friendship")
	case errors.Is(err, graph.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Friendship not found")
	default:
		h.log.Error().Err(err).Msg("assign friendship role failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

func toFriendshipResponse(f *graph.Friendship, roles []string) models.FriendshipResponse {
	return models.FriendshipResponse{
		ID:          f.ID.String(),
		RequesterID: f.RequesterID.String(),
		AddresseeID: f.AddresseeID.String(),
		Status:      f.Status,
		Roles:       roles,
		CreatedAt:   formatTime(f.CreatedAt),
	}
}
