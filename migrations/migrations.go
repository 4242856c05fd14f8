// Package migrations embeds the SQL migration files for the saga orchestrator.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
