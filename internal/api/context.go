package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/contextapi"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
)

// ContextHandler serves the pre-send/pre-reply context preview described in section 4.7.
type ContextHandler struct {
	svc *contextapi.Service
	log zerolog.Logger
}

// NewContextHandler creates a ContextHandler.
func NewContextHandler(svc *contextapi.Service, logger zerolog.Logger) *ContextHandler {
	return &ContextHandler{svc: svc, log: logger}
}

// Get handles GET /policies/context/:username.
func (h *ContextHandler) Get(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	preview, err := h.svc.Preview(c, principal.UserID, c.Params("username"))
	if err != nil {
		if errors.Is(err, contextapi.ErrNotFriends) {
			return httputil.Fail(c, apierrors.NotFound, "Not friends with this user")
		}
		h.log.Error().Err(err).Msg("build context preview failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	recent := make([]models.MessageResponse, len(preview.RecentInteractions))
	for i := range preview.RecentInteractions {
		recent[i] = toBareMessageResponse(&preview.RecentInteractions[i])
	}
	policies := make([]models.PolicyResponse, len(preview.ApplicablePolicies))
	for i := range preview.ApplicablePolicies {
		policies[i] = toPolicyResponse(&preview.ApplicablePolicies[i])
	}

	return httputil.Success(c, models.ContextResponse{
		Recipient: models.ContextRecipientResponse{
			Username: preview.Recipient.Username, DisplayName: preview.Recipient.DisplayName,
			Relationship: preview.Recipient.Relationship, FriendshipID: preview.Recipient.FriendshipID.String(),
			Roles: preview.Recipient.Roles, ConnectedSince: preview.Recipient.ConnectedSince,
			InteractionCount: preview.Recipient.InteractionCount,
		},
		ApplicablePolicies: policies,
		Summary:            preview.Summary,
		RecentInteractions: recent,
	})
}
