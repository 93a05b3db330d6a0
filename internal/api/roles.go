package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/graph"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/models"
)

// RoleHandler serves system-role listing and custom-role creation.
type RoleHandler struct {
	roles graph.RoleRepository
	log   zerolog.Logger
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(roles graph.RoleRepository, logger zerolog.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, log: logger}
}

// List handles GET /roles?type=system|custom. An empty or unrecognized type returns both sets concatenated, system
// roles first.
func (h *RoleHandler) List(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var out []models.RoleResponse
	wantCustom := c.Query("type") != "system"
	wantSystem := c.Query("type") != "custom"

	if wantSystem {
		system, err := h.roles.ListSystem(c)
		if err != nil {
			h.log.Error().Err(err).Msg("list system roles failed")
			return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
		}
		for i := range system {
			out = append(out, toRoleResponse(&system[i]))
		}
	}
	if wantCustom {
		custom, err := h.roles.ListCustom(c, principal.UserID)
		if err != nil {
			h.log.Error().Err(err).Msg("list custom roles failed")
			return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
		}
		for i := range custom {
			out = append(out, toRoleResponse(&custom[i]))
		}
	}
	return httputil.Success(c, out)
}

// Create handles POST /roles: defines a custom role scoped to the caller.
func (h *RoleHandler) Create(c fiber.Ctx) error {
	principal, err := principalOrUnauthorized(c)
	if err != nil {
		return err
	}

	var body models.CreateRoleRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}

	if err := graph.ValidateCustomRoleName(body.Name); err != nil {
		return httputil.Fail(c, apierrors.Validation, err.Error())
	}

	role, err := h.roles.Create(c, principal.UserID, body.Name, body.Description)
	if err != nil {
		if errors.Is(err, graph.ErrRoleNameTaken) {
			return httputil.Fail(c, apierrors.Conflict, "A role with this name already exists")
		}
		h.log.Error().Err(err).Msg("create role failed")
		return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toRoleResponse(role))
}

func toRoleResponse(r *graph.Role) models.RoleResponse {
	return models.RoleResponse{ID: r.ID.String(), Name: r.Name, Description: r.Description, IsSystem: r.IsSystem}
}
