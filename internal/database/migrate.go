// Package database はデータベース接続とマイグレーション管理を提供する。
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

// MigrationState は適用済みマイグレーションの状態。
type MigrationState struct {
	Version uint
	Dirty   bool
	// Applied は今回の実行で新たに適用したマイグレーションがあったかどうか。
	Applied bool
}

// NewMigrator は埋め込みSQLを読み込むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後の状態を返す。
// dirty状態のデータベースには適用せずエラーを返す。
func RunMigrations(databaseURL string) (*MigrationState, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	before, err := readState(m)
	if err != nil {
		return nil, err
	}
	if before.Dirty {
		return before, fmt.Errorf("database is dirty at version %d; fix it manually before migrating", before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := readState(m)
	if err != nil {
		return nil, err
	}
	after.Applied = after.Version != before.Version
	return after, nil
}

// readState は現在のバージョンを読む。未適用の場合はVersion=0を返す。
func readState(m *migrate.Migrate) (*MigrationState, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}
	return &MigrationState{Version: version, Dirty: dirty}, nil
}
