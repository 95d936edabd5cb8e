// Package migrations embeds the bridge's SQL migrations and registers them
// with the database package at init.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
