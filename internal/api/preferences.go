package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/user"
)

// PreferencesHandler serves the caller's notification and default-LLM-prompt preferences.
type PreferencesHandler struct {
	users user.Repository
	log   zerolog.Logger
}

// NewPreferencesHandler creates a PreferencesHandler.
func NewPreferencesHandler(users user.Repository, logger zerolog.Logger) *PreferencesHandler {
	return &PreferencesHandler{users: users, log: logger}
}

// Get handles GET /preferences.
func (h *PreferencesHandler) Get(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	prefs, err := h.users.GetPreferences(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("get preferences failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.Success(c, toPreferencesResponse(prefs))
}

// Update handles PATCH /preferences: only the fields the caller sets are changed.
func (h *PreferencesHandler) Update(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.UpdatePreferencesRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	existing, err := h.users.GetPreferences(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("get preferences failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	if body.NotifyMessageReceived != nil {
		existing.NotifyMessageReceived = *body.NotifyMessageReceived
	}
	if body.NotifyDeliveryStatus != nil {
		existing.NotifyDeliveryStatus = *body.NotifyDeliveryStatus
	}
	if body.NotifyFriendRequest != nil {
		existing.NotifyFriendRequest = *body.NotifyFriendRequest
	}
	if body.NotifyGroupInvite != nil {
		existing.NotifyGroupInvite = *body.NotifyGroupInvite
	}
	if body.DefaultLLMPrompt != nil {
		existing.DefaultLLMPrompt = body.DefaultLLMPrompt
	}

	updated, err := h.users.UpdatePreferences(c, *existing)
	if err != nil {
		h.log.Error().Err(err).Msg("update preferences failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.Success(c, toPreferencesResponse(updated))
}

func toPreferencesResponse(p *user.Preferences) models.PreferencesResponse {
	return models.PreferencesResponse{
		NotifyMessageReceived: p.NotifyMessageReceived, NotifyDeliveryStatus: p.NotifyDeliveryStatus,
		NotifyFriendRequest: p.NotifyFriendRequest, NotifyGroupInvite: p.NotifyGroupInvite,
		DefaultLLMPrompt: p.DefaultLLMPrompt,
	}
}
