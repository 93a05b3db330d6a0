// Package api implements the /api/v1 Fiber route handlers described in section 6, wiring together every component
// built underneath it. Grounded on the teacher's internal/api/{message,auth,user}.go: one handler struct per
// resource, constructed with its dependencies and registered onto a fiber.Router group by cmd/registry.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/identity"
)

// callbackSecretBytes is the number of random bytes used to generate a callback HMAC secret when the caller does
// not supply one at registration time.
const callbackSecretBytes = 32

// generateCallbackSecret mints a random hex-encoded shared secret for a newly registered agent connection.
func generateCallbackSecret() (string, error) {
	b := make([]byte, callbackSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate callback secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// formatTime renders t the way every timestamp on the wire is rendered: UTC, RFC3339Nano.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// formatTimePtr renders a nullable timestamp, returning nil when t is nil.
func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// principalOrUnauthorized fetches the resolved Principal from Locals, failing the request if RequireAuth was
// somehow bypassed (should never happen on a routed group, but handlers must not panic on a missing Principal).
func principalOrUnauthorized(c fiber.Ctx) (*identity.Principal, error) {
	p, ok := identity.FromContext(c)
	if !ok {
		return nil, httputil.Fail(c, apierrors.Unauthorized, "Missing authenticated principal")
	}
	return p, nil
}

// uuidParam parses a named URL parameter as a uuid.UUID, failing the request with VALIDATION on a bad format.
func uuidParam(c fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.UUID{}, httputil.Fail(c, apierrors.Validation, "Invalid "+name+" format")
	}
	return id, nil
}

// bindBody decodes the request body into dst, failing the request with VALIDATION on malformed JSON.
func bindBody(c fiber.Ctx, dst any) error {
	if err := c.Bind().Body(dst); err != nil {
		return httputil.Fail(c, apierrors.Validation, "Invalid request body")
	}
	return nil
}
