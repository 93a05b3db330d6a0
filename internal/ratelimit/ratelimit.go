// Package ratelimit implements the per-principal token bucket described in section 5: each authenticated user gets
// its own bucket refilling at a configured rate, independent of every other user's traffic. Grounded on
// MuhibNayem-connectify-v2's IPRateLimiter (messaging-app/pkg/middleware/ratelimiter.go), swapping the IP key for
// the resolved Principal's user id.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/time/rate"

	"github.com/mahilo/registry/internal/apierrors"
	"github.com/mahilo/registry/internal/httputil"
	"github.com/mahilo/registry/internal/identity"
)

// Limiter hands out one token-bucket rate.Limiter per principal, creating it lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	perMin   int
	burst    int
}

// New builds a Limiter allowing perMinute requests per principal, with a burst equal to perMinute (a full minute's
// allowance may be spent immediately, then refills steadily).
func New(perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		perMin:  perMinute,
		burst:   perMinute,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.burst)
		l.buckets[key] = lim
	}
	return lim
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware returns Fiber middleware gating every request behind the caller's per-principal bucket. It must run
// after identity.RequireAuth so a Principal is already in locals; unauthenticated requests (no principal resolved)
// are never rate limited here since RequireAuth will have already rejected them with 401.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		principal, ok := identity.FromContext(c)
		if !ok {
			return c.Next()
		}
		if !l.Allow(principal.UserID.String()) {
			return httputil.Fail(c, apierrors.RateLimited, "Rate limit exceeded")
		}
		return c.Next()
	}
}
