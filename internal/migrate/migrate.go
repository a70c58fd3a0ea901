// Package migrate applies the SQL files embedded in the migrations
// package using golang-migrate. cmd/server calls Up at startup, so the
// schema is current without a separate operational step; cmd/worker does
// not run migrations.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/pixell07/ragserve/migrations"
)

// Up applies every pending migration against databaseURL. Returns nil if
// the schema is already current.
func Up(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migrate: loading embedded source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: opening migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: applying migrations: %w", err)
	}
	return nil
}
