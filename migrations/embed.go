// Package migrations embeds the SQL schema migrations for messengerd.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
