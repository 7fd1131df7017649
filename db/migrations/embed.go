// Package migrations embeds the SQL migration bundles for both supported
// backends so the daemon ships them in its binary rather than reading
// loose files at startup.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS
