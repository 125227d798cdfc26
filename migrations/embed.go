// Package migrations embeds the forum schema migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/forum-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
