// Package migrations embeds the versioned schema for each supported database.
package migrations

import "embed"

// Embedded migration files bundled at compile time.
// Files are applied in filename order; never edit an applied file, add a new one.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
