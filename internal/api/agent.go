package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/agent"
	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
)

// AgentHandler serves agent connection registration, listing, deletion and liveness pings.
type AgentHandler struct {
	agents           agent.Repository
	allowPrivateHost bool
	log              zerolog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents agent.Repository, allowPrivateHost bool, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, allowPrivateHost: allowPrivateHost, log: logger}
}

// Register handles POST /agents.
func (h *AgentHandler) Register(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.RegisterAgentRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	if err := agent.ValidatePublicKeyAlg(body.PublicKeyAlg); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}
	if err := agent.ValidateCallbackURL(body.CallbackURL, h.allowPrivateHost); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}

	secret := body.CallbackSecret
	if secret == nil || *secret == "" {
		generated, err := generateCallbackSecret()
		if err != nil {
			h.log.Error().Err(err).Msg("generate callback secret failed")
			return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
		}
		secret = &generated
	}

	conn, created, err := h.agents.Register(c, agent.RegisterParams{
		UserID:          principal.UserID,
		Framework:       body.Framework,
		Label:           body.Label,
		Description:     body.Description,
		Capabilities:    body.Capabilities,
		PublicKey:       body.PublicKey,
		PublicKeyAlg:    body.PublicKeyAlg,
		RoutingPriority: body.RoutingPriority,
		CallbackURL:     body.CallbackURL,
		CallbackSecret:  *secret,
		RotateSecret:    body.RotateSecret,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("register agent connection failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	resp := toAgentResponse(conn)
	// The plaintext callback secret is only ever shown on the call that minted or rotated it.
	if created || body.RotateSecret {
		resp.CallbackSecret = &conn.CallbackSecret
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return httputil.SuccessStatus(c, status, resp)
}

// List handles GET /agents.
func (h *AgentHandler) List(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	conns, err := h.agents.List(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("list agent connections failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	out := make([]models.AgentResponse, len(conns))
	for i := range conns {
		out[i] = toAgentResponse(&conns[i])
	}
	return httputil.Success(c, out)
}

// Delete handles DELETE /agents/:id.
func (h *AgentHandler) Delete(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.agents.Delete(c, principal.UserID, id); err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "Agent connection not found")
		}
		h.log.Error().Err(err).Msg("delete agent connection failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Ping handles POST /agents/:id/ping: a liveness heartbeat the agent calls to refresh lastSeen.
func (h *AgentHandler) Ping(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	conn, err := h.agents.GetByID(c, id)
	if err != nil || conn.UserID != principal.UserID {
		return httputil.Fail(c, apierrors.NotFound, "Agent connection not found")
	}

	if err := h.agents.Touch(c, id); err != nil {
		h.log.Error().Err(err).Msg("touch agent connection failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	return httputil.Success(c, models.PingResponse{
		ID:       id.String(),
		Status:   agent.StatusActive,
		LastSeen: formatTime(time.Now().UTC()),
	})
}

func toAgentResponse(conn *agent.Connection) models.AgentResponse {
	return models.AgentResponse{
		ID:              conn.ID.String(),
		Framework:       conn.Framework,
		Label:           conn.Label,
		Description:     conn.Description,
		Capabilities:    conn.Capabilities,
		PublicKey:       conn.PublicKey,
		PublicKeyAlg:    conn.PublicKeyAlg,
		RoutingPriority: conn.RoutingPriority,
		CallbackURL:     conn.CallbackURL,
		Status:          conn.Status,
		LastSeen:        formatTimePtr(conn.LastSeen),
		CreatedAt:       formatTime(conn.CreatedAt),
	}
}
