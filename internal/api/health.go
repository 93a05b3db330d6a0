package api

import (
	"database/sql"

	"github.com/gofiber/fiber/v3"
)

// HealthHandler serves the unauthenticated liveness/readiness probe.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Get handles GET /health: reports ok only if the database connection actually responds.
func (h *HealthHandler) Get(c fiber.Ctx) error {
	if err := h.db.PingContext(c); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
