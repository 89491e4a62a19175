package migrations

import "embed"

// FS contains the schema migrations shared by the PostgreSQL and SQLite stores.
//
//go:embed *.sql
var FS embed.FS
