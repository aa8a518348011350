// Package migrations owns the gateway's own schema: the [dbo].[TokenStore]
// table domain/auth.SQLStore reads from. Webhook sink tables are not migrated
// here — they are endpoint-defined (domain/webhook writes into whatever
// table the WebhookEndpoint's entity.json names) and are expected to
// already exist in the target database.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply runs every pending up migration against db using the mssql driver,
// matching the connection the gateway's own pool manager already opened.
// It is idempotent: migrate tracks its own schema_migrations version table
// and no-ops when the schema is already current.
func Apply(db *sql.DB) error {
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: load embedded source: %w", err)
	}

	driver, err := sqlserver.WithInstance(db, &sqlserver.Config{})
	if err != nil {
		return fmt.Errorf("migrations: build sqlserver driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlserver", driver)
	if err != nil {
		return fmt.Errorf("migrations: init migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	return nil
}
