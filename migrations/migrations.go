// Package migrations embeds the SQL migration files so they ship inside
// the compiled binary instead of depending on a deploy-time file mount.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
