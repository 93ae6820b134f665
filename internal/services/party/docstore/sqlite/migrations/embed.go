// Package migrations embeds the SQL schema for the SQLite document backend.
package migrations

import "embed"

//go:embed documents/*.sql
var DocumentsFS embed.FS
