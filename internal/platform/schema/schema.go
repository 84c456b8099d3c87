// Package schema applies SQL migrations with golang-migrate over pgx/v5.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// URL rewrites a postgres DSN into the scheme the pgx/v5 migrate
// driver registers.
func URL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("platform/schema: unsupported dsn scheme in %q", redact(dsn))
}

// Up applies every pending up migration from files. It returns the schema
// version after the run.
func Up(files fs.FS, dsn string) (uint, error) {
	m, err := open(files, dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("platform/schema: migrate up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("platform/schema: migrate version: %w", err)
	}
	return version, nil
}

// Down reverts the given number of migrations.
func Down(files fs.FS, dsn string, steps int) error {
	if steps <= 0 {
		return errors.New("platform/schema: rollback steps must be positive")
	}
	m, err := open(files, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/schema: migrate down: %w", err)
	}
	return nil
}

func open(files fs.FS, dsn string) (*migrate.Migrate, error) {
	url, err := URL(dsn)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("platform/schema: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("platform/schema: migrate init: %w", err)
	}
	return m, nil
}

func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 || scheme > at {
		return "***" + dsn[at:]
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
