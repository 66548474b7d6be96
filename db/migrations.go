// Package db embeds the SQL migrations so the binary can migrate without
// the source tree.
package db

import "embed"

// MigrationsDir is the directory of the Postgres migrations inside Migrations
const MigrationsDir = "pg"

//go:embed pg/*.sql
var Migrations embed.FS
