package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mahilo/registry/internal/apierrors"
)

// ErrorBody is the flat error envelope mandated by the wire protocol: {error, message}.
type ErrorBody struct {
	Error   apierrors.Code `json:"error"`
	Message string         `json:"message"`
}

// Success sends a 200 JSON response with the given data marshalled directly at the top level (the registry's wire
// protocol does not wrap successful responses in a data envelope the way the teacher project does).
func Success(c fiber.Ctx, data any) error {
	return c.JSON(data)
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// Fail sends the standard error envelope with the status implied by the code.
func Fail(c fiber.Ctx, code apierrors.Code, message string) error {
	return c.Status(code.Status()).JSON(ErrorBody{Error: code, Message: message})
}
