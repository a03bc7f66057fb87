// Package migrations embeds the SQL schema shared by source and shadow databases.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
