// Package migrations embeds the SQL schema applied on startup by db.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
