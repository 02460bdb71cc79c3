package migrations

import "embed"

// FS holds the schema migrations applied on startup and by addonctl migrate.
//
//go:embed *.sql
var FS embed.FS
