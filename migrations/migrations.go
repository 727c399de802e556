// Package migrations embeds the SQL migration files so the server can
// apply them at startup without shipping loose files alongside the binary.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
