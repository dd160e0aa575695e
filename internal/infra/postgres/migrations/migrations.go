// Package migrations holds the schema for the quiz catalog and learner progress.
// Each file registers one migration; bun derives its version from the file name.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
