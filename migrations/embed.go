// Package migrations embeds the SQL migration files so the server binary
// can bootstrap a database without shipping the files alongside it.
package migrations

import (
	"embed"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns a migration source driver backed by the embedded files.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}
