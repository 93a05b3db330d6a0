package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/delivery"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/identity"
	"github.com/mahilo/registry/internal/message"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/notify"
	"github.com/mahilo/registry/internal/policy"
	"github.com/mahilo/registry/internal/router"
	"github.com/mahilo/registry/internal/user"
)

// MessageHandler serves message send and history, per section 4.4/4.6.
type MessageHandler struct {
	router          *router.Router
	worker          *delivery.Worker
	messages        message.Repository
	policies        policy.Repository
	friendships     graph.FriendshipRepository
	engine          *policy.Engine
	notifier        *notify.Publisher
	trustedMode     bool
	maxPayloadBytes int
	log             zerolog.Logger
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(rt *router.Router, worker *delivery.Worker, messages message.Repository, policies policy.Repository,
	friendships graph.FriendshipRepository, engine *policy.Engine, notifier *notify.Publisher, trustedMode bool,
	maxPayloadBytes int, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		router: rt, worker: worker, messages: messages, policies: policies, friendships: friendships,
		engine: engine, notifier: notifier, trustedMode: trustedMode, maxPayloadBytes: maxPayloadBytes, log: logger,
	}
}

// Send handles POST /messages/send: resolves the recipient, evaluates policy, persists the message and its
// delivery children, then attempts an immediate synchronous delivery per child so a reachable recipient's send
// response already reports status=delivered instead of waiting on the next poll tick.
func (h *MessageHandler) Send(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.SendMessageRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	if body.Message == "" {
		return httputil.Fail(c, apierrors.Validation, "message must not be empty")
	}

	recipientType := body.RecipientType
	if recipientType == "" {
		recipientType = message.RecipientUser
	}

	req := router.SendRequest{
		SenderUserID: principal.UserID, SenderAgent: c.Get("X-Mahilo-Agent"), CorrelationID: body.CorrelationID,
		RecipientType: recipientType, Payload: body.Message, PayloadType: body.PayloadType,
		Context: body.Context, IdempotencyKey: body.IdempotencyKey,
	}
	if body.Encryption != nil {
		req.Encryption = &message.Encryption{Alg: body.Encryption.Alg, KeyID: body.Encryption.KeyID}
	}
	if body.SenderSignature != nil {
		req.SenderSignature = &message.Signature{
			Alg: body.SenderSignature.Alg, KeyID: body.SenderSignature.KeyID, Signature: body.SenderSignature.Signature,
		}
	}
	if body.RoutingHints != nil {
		req.RoutingHints = router.RoutingHints{Labels: body.RoutingHints.Labels, Tags: body.RoutingHints.Tags}
	}

	switch recipientType {
	case message.RecipientUser:
		req.RecipientUsername = body.Recipient
		if body.RecipientConnectionID != nil {
			id, err := uuid.Parse(*body.RecipientConnectionID)
			if err != nil {
				return httputil.Fail(c, apierrors.Validation, "recipientConnectionId is not a valid id")
			}
			req.RecipientConnectionID = &id
		}
	case message.RecipientGroup:
		id, err := uuid.Parse(body.Recipient)
		if err != nil {
			return httputil.Fail(c, apierrors.Validation, "recipient is not a valid group id")
		}
		req.RecipientGroupID = &id
	default:
		return httputil.Fail(c, apierrors.Validation, "recipientType must be user or group")
	}

	pc := router.PolicyContext{TrustedMode: h.trustedMode, Policies: h.policies, Engine: h.engine}
	result, deliveries, err := h.router.Send(c, req, h.maxPayloadBytes, pc)
	if err != nil {
		return h.mapSendError(c, err)
	}

	if !result.Deduplicated {
		for _, d := range deliveries {
			if d.Status == message.StatusPending {
				h.worker.AttemptNow(c, d)
			}
		}
		if msg, err := h.messages.GetByID(c, result.MessageID); err == nil {
			result.Status = msg.Status
			if recipientType == message.RecipientUser && len(deliveries) > 0 {
				h.notifier.Publish(c, deliveries[0].RecipientUserID, notify.EventMessageReceived, notify.MessageReceivedPayload{
					MessageID: msg.ID.String(), SenderAgent: msg.SenderAgent, PayloadType: msg.PayloadType,
				})
			}
		}
	}

	resp := models.SendMessageResponse{
		MessageID: result.MessageID.String(), Status: result.Status,
		Deduplicated: result.Deduplicated, RejectionReason: result.RejectionReason,
	}
	if result.Status == message.StatusRejected {
		return httputil.SuccessStatus(c, fiber.StatusForbidden, resp)
	}
	return httputil.SuccessStatus(c, fiber.StatusOK, resp)
}

// History handles GET /messages?direction=&since=&limit=: the caller's own message history, newest first,
// enriched with reply-policy info for each message the caller received (section 4.6).
func (h *MessageHandler) History(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	direction := c.Query("direction")
	limit := message.ClampHistoryLimit(parseIntOr(c.Query("limit"), 0))

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return httputil.Fail(c, apierrors.Validation, "since must be an RFC3339 timestamp")
		}
		since = &t
	}

	msgs, err := h.messages.ListHistory(c, principal.UserID, principal.Username, direction, since, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list message history failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	out := make([]models.MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = h.toMessageResponse(c, &msgs[i], principal)
	}
	return httputil.Success(c, out)
}

// toMessageResponse maps a stored message to its wire shape, attaching reply-policy enrichment (section 4.6) when
// the caller was the recipient of a plaintext, user-targeted message.
func (h *MessageHandler) toMessageResponse(c fiber.Ctx, m *message.Message, principal *identity.Principal) models.MessageResponse {
	out := toBareMessageResponse(m)

	isReceivedDirectMessage := m.RecipientType == message.RecipientUser && m.RecipientID == principal.Username &&
		m.SenderUserID != principal.UserID && !message.IsCiphertext(m.PayloadType)
	if isReceivedDirectMessage {
		out.ReplyPolicies = h.replyPolicies(c, principal, m.SenderUserID)
	}
	return out
}

// replyPolicies resolves the constraints the recipient would face composing a reply to sender: the roles sender
// has assigned the recipient, and the policies that would gate a reply sent back to them.
func (h *MessageHandler) replyPolicies(c fiber.Ctx, principal *identity.Principal, senderID uuid.UUID) *models.ReplyPoliciesResponse {
	roles, err := h.friendships.RolesForFriendOf(c, senderID, principal.UserID)
	if err != nil {
		h.log.Warn().Err(err).Msg("look up reply roles failed")
		roles = nil
	}

	policies, err := h.policies.ScopeFilterForUser(c, principal.UserID, senderID.String(), roles)
	if err != nil {
		h.log.Warn().Err(err).Msg("scope filter reply policies failed")
		policies = nil
	}

	out := make([]models.PolicyResponse, len(policies))
	for i := range policies {
		out[i] = toPolicyResponse(&policies[i])
	}
	return &models.ReplyPoliciesResponse{
		SenderRoles: roles, Policies: out,
		Summary: replyPoliciesSummary(len(policies)),
	}
}

func replyPoliciesSummary(policyCount int) string {
	if policyCount == 0 {
		return "No policies constrain a reply to this sender."
	}
	if policyCount == 1 {
		return "1 policy rule would apply to a reply sent to this sender."
	}
	return strconv.Itoa(policyCount) + " policy rules would apply to a reply sent to this sender."
}

func (h *MessageHandler) mapSendError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, router.ErrRecipientNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Recipient not found")
	case errors.Is(err, router.ErrConnectionNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Recipient has no active connection")
	case errors.Is(err, router.ErrNotAuthorizedToSend):
		return httputil.Fail(c, apierrors.Forbidden, "Not authorized to message this recipient")
	case errors.Is(err, router.ErrInvalidRecipientType):
		return httputil.Fail(c, apierrors.Validation, "recipientType must be user or group")
	case errors.Is(err, message.ErrPayloadEmpty):
		return httputil.Fail(c, apierrors.Validation, "message must not be empty")
	case errors.Is(err, message.ErrPayloadTooLarge):
		return httputil.Fail(c, apierrors.PayloadTooLarge, "message exceeds the configured maximum size")
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "Recipient not found")
	default:
		h.log.Error().Err(err).Msg("send message failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

// toBareMessageResponse maps a stored message to its wire shape without reply-policy enrichment, for callers (like
// the context preview) that list messages outside the authenticated recipient's own history view.
func toBareMessageResponse(m *message.Message) models.MessageResponse {
	out := models.MessageResponse{
		ID: m.ID.String(), CorrelationID: m.CorrelationID, SenderUserID: m.SenderUserID.String(),
		SenderAgent: m.SenderAgent, RecipientType: m.RecipientType, RecipientID: m.RecipientID,
		Payload: m.Payload, PayloadType: m.PayloadType, Context: m.Context, Status: m.Status,
		RejectionReason: m.RejectionReason, RetryCount: m.RetryCount, IdempotencyKey: m.IdempotencyKey,
		CreatedAt: formatTime(m.CreatedAt), DeliveredAt: formatTimePtr(m.DeliveredAt),
	}
	if m.RecipientConnectionID != nil {
		id := m.RecipientConnectionID.String()
		out.RecipientConnectionID = &id
	}
	if m.Encryption != nil {
		out.Encryption = &models.EncryptionRequest{Alg: m.Encryption.Alg, KeyID: m.Encryption.KeyID}
	}
	if m.SenderSignature != nil {
		out.SenderSignature = &models.SenderSignatureRequest{
			Alg: m.SenderSignature.Alg, KeyID: m.SenderSignature.KeyID, Signature: m.SenderSignature.Signature,
		}
	}
	return out
}

func parseIntOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
