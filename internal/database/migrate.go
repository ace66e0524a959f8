// Package database はPostgreSQL接続とスキーマのマイグレーションを扱う。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion はschema_migrationsテーブルに記録された適用状態。
type SchemaVersion struct {
	Version uint
	Dirty   bool
	// Empty はマイグレーションが一度も適用されていないことを示す。
	Empty bool
}

// NewMigrator は埋め込みSQLをソースとするmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// 最新であればErrNoChangeを握りつぶしてnilを返す。
func RunMigrations(databaseURL string) error {
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// RollbackMigrations は直近からsteps件のマイグレーションを巻き戻す。
func RollbackMigrations(databaseURL string, steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		return nil
	})
}

// CurrentVersion は現在のスキーマバージョンを返す。
func CurrentVersion(databaseURL string) (SchemaVersion, error) {
	var sv SchemaVersion
	err := withMigrator(databaseURL, func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			sv.Empty = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		sv.Version, sv.Dirty = v, dirty
		return nil
	})
	return sv, err
}

func withMigrator(databaseURL string, fn func(*migrate.Migrate) error) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
