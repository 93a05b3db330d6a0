// Package migrations embeds the registry's goose migration files so they ship inside the compiled binary, the same
// way the teacher's internal/postgres/migrations package embeds its SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
