// Package migrations embeds the goose SQL migrations. The statements stay
// within the subset accepted by SQLite, PostgreSQL and MySQL.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
