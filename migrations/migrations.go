// Package migrations holds the feedbot schema as embedded goose migrations.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var Files embed.FS

// Apply brings the schema of db up to the latest version.
func Apply(db *sql.DB) error {
	goose.SetBaseFS(Files)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
