// Package migrations embeds the SQL migration files into the binary so
// SmartRack can migrate without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// FS exposes the embedded files for tests that build a schema directly.
var FS = migrationsFS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
