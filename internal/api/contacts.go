package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/user"
)

// ContactsHandler serves the sender-side routing discovery endpoint.
type ContactsHandler struct {
	users  user.Repository
	agents agent.Repository
	authz  *graph.Authorizer
	log    zerolog.Logger
}

// NewContactsHandler creates a ContactsHandler.
func NewContactsHandler(users user.Repository, agents agent.Repository, authz *graph.Authorizer, logger zerolog.Logger) *ContactsHandler {
	return &ContactsHandler{users: users, agents: agents, authz: authz, log: logger}
}

// Connections handles GET /contacts/:username/connections: the active connections of a friend, for routing-hint
// discovery before a send.
func (h *ContactsHandler) Connections(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	contact, err := h.users.GetByUsername(c, c.Params("username"))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "User not found")
		}
		h.log.Error().Err(err).Msg("look up contact failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	areFriends, err := h.authz.CanSendToUser(c, principal.UserID, contact.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("check friendship failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	if !areFriends {
		return httputil.Fail(c, apierrors.Forbidden, "You are not friends with this user")
	}

	conns, err := h.agents.ListActiveByUser(c, contact.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("list contact connections failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	out := make([]models.ConnectionSummary, len(conns))
	for i := range conns {
		out[i] = models.ConnectionSummary{
			ID:              conns[i].ID.String(),
			Framework:       conns[i].Framework,
			Label:           conns[i].Label,
			Capabilities:    conns[i].Capabilities,
			RoutingPriority: conns[i].RoutingPriority,
			Status:          conns[i].Status,
		}
	}
	return httputil.Success(c, out)
}
