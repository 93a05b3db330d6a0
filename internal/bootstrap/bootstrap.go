// Package bootstrap performs idempotent first-run and every-run initialization at process start. Grounded on the
// teacher's internal/bootstrap/init.go (transactional first-run seeding inside a single call from main), scaled down
// to this system's single seeding need: the system role set named in section 3 has no owner account, channels, or
// onboarding config to create alongside it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mahilo/registry/internal/graph"
)

// SeedSystemRoles idempotently inserts the fixed system role set (close_friends, friends, acquaintances,
// work_contacts, family) so they exist before any friendship role assignment is attempted. Safe to call on every
// boot, not just the first.
func SeedSystemRoles(ctx context.Context, roles graph.RoleRepository, logger zerolog.Logger) error {
	if err := roles.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("seed system roles: %w", err)
	}
	logger.Info().Strs("roles", graph.SystemRoles).Msg("system roles seeded")
	return nil
}
