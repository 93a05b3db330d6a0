package identity

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
)

// RequireAuth returns Fiber middleware that resolves the Authorization header to a Principal and stores it in
// c.Locals("principal"), mirroring the teacher's RequireAuth shape in internal/auth/middleware.go but resolving
// through API-key verification instead of a session JWT.
func RequireAuth(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		principal, err := svc.Resolve(c.Context(), c.Get("Authorization"))
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return httputil.Fail(c, apierrors.Unauthorized, "Invalid or missing credentials")
			}
			return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
		}

		c.Locals("principal", principal)
		return c.Next()
	}
}

// FromContext retrieves the resolved Principal stored by RequireAuth.
func FromContext(c fiber.Ctx) (*Principal, bool) {
	p, ok := c.Locals("principal").(*Principal)
	return p, ok
}
