// Package migrations holds the PostgreSQL schema applied by golang-migrate.
package migrations

import "embed"

// FS contains the versioned up/down SQL files
//
//go:embed *.sql
var FS embed.FS
