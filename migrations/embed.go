package migrations

import "embed"

// FS holds every embedded migration set. Sub-directories:
//   - kv: local cache substrate (sqlite)
//   - remote/sqlite, remote/postgres: habit and completion tables
//
//go:embed kv/*.sql remote/sqlite/*.sql remote/postgres/*.sql
var FS embed.FS
