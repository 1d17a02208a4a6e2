package db

import "embed"

// MigrationFS embeds SQL migration files, one sub-directory per driver
// (migrations/sqlite, migrations/postgres). Used by the migrate runner.
//
//go:embed migrations/*/*.sql
var MigrationFS embed.FS
