// Package migrations holds the PostgreSQL schema as golang-migrate files.
// The server applies the embedded copy at startup when auto-migration is on.
package migrations

import "embed"

// FS contains every *.sql file of this directory
//
//go:embed *.sql
var FS embed.FS
