package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/identity"
	"github.com/mahilo/registry/internal/models"
	"github.com/mahilo/registry/internal/user"
)

// AuthHandler serves registration, Twitter-handle verification, key rotation, and principal lookup.
type AuthHandler struct {
	users user.Repository
	ident *identity.Service
	log   zerolog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(users user.Repository, ident *identity.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, ident: ident, log: logger}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body models.RegisterRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	if err := user.ValidateUsername(body.Username); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}

	minted, err := h.ident.Mint()
	if err != nil {
		h.log.Error().Err(err).Msg("mint api key failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	created, err := h.users.Create(c, user.CreateParams{
		Username:    body.Username,
		DisplayName: body.DisplayName,
		APIKeyHash:  minted.Hash,
		APIKeyID:    minted.KeyID,
	})
	if err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			return httputil.Fail(c, apierrors.Conflict, "Username is already taken")
		}
		h.log.Error().Err(err).Msg("create user failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	code, err := h.ident.VerificationCode(created.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("derive verification code failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, models.RegisterResponse{
		UserID:            created.ID.String(),
		Username:          created.Username,
		APIKey:            minted.APIKey,
		VerificationCode:  code,
		VerificationTweet: verificationTweetText(created.Username, code),
		Verified:          false,
	})
}

// verificationTweetText is the suggested tweet text a user posts to prove ownership of a Twitter handle; the
// registry never fetches or checks the tweet itself (section 1 places Twitter verification out of scope).
func verificationTweetText(username, code string) string {
	return fmt.Sprintf("Verifying my Mahilo registry account @%s with code mahilo-verify:%s", username, code)
}

// VerifyPost handles POST /auth/verify/:userId.
func (h *AuthHandler) VerifyPost(c fiber.Ctx) error {
	userID, err := uuidParam(c, "userId")
	if err != nil {
		return err
	}

	var body models.VerifyRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	if body.TwitterHandle == "" {
		return httputil.Fail(c, apierrors.Validation, "twitterHandle is required")
	}

	if err := h.users.MarkTwitterVerified(c, userID, body.TwitterHandle); err != nil {
		return h.mapVerifyError(c, err)
	}

	return httputil.Success(c, models.VerifyResponse{
		UserID:          userID.String(),
		TwitterHandle:   body.TwitterHandle,
		TwitterVerified: true,
	})
}

// VerifyGet handles GET /auth/verify/:userId.
func (h *AuthHandler) VerifyGet(c fiber.Ctx) error {
	userID, err := uuidParam(c, "userId")
	if err != nil {
		return err
	}

	u, err := h.users.GetByID(c, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, apierrors.NotFound, "User not found")
		}
		h.log.Error().Err(err).Msg("get user failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	resp := models.VerifyResponse{UserID: u.ID.String(), TwitterVerified: u.TwitterVerified}
	if u.TwitterHandle != nil {
		resp.TwitterHandle = *u.TwitterHandle
	}
	return httputil.Success(c, resp)
}

func (h *AuthHandler) mapVerifyError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, apierrors.NotFound, "User not found")
	case errors.Is(err, user.ErrAlreadyVerified):
		return httputil.Fail(c, apierrors.Conflict, "User is already verified")
	default:
		h.log.Error().Err(err).Msg("verify user failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}
}

// RotateKey handles POST /auth/rotate-key.
func (h *AuthHandler) RotateKey(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	minted, err := h.ident.Mint()
	if err != nil {
		h.log.Error().Err(err).Msg("mint api key failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	if err := h.users.RotateAPIKey(c, principal.UserID, minted.Hash, minted.KeyID); err != nil {
		h.log.Error().Err(err).Msg("rotate api key failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	return httputil.Success(c, models.RotateKeyResponse{APIKey: minted.APIKey})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	u, err := h.users.GetByID(c, principal.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("get principal user failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	return httputil.Success(c, models.MeResponse{
		UserID:          u.ID.String(),
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		TwitterHandle:   u.TwitterHandle,
		TwitterVerified: u.TwitterVerified,
		CreatedAt:       formatTime(u.CreatedAt),
	})
}
