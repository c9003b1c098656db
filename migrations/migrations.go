// Package migrations embeds the schema of the SQL backends, one directory
// per dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
