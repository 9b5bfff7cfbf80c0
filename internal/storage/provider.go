package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/db"
	"github.com/driftcloud/agentcore/internal/db/dialect"
)

// Provide opens the configured database (sqlite or postgres), wraps it in
// a Pool, and builds a Store with schema initialized.
func Provide(cfg *config.Config) (*Store, func() error, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return providePostgres(cfg)
	default:
		return provideSQLite(cfg)
	}
}

func provideSQLite(cfg *config.Config) (*Store, func() error, error) {
	writer, err := db.OpenSQLite(cfg.Database.Path, cfg.Database.BusyTimeoutMs)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	reader, err := db.OpenSQLiteReader(cfg.Database.Path, cfg.Database.BusyTimeoutMs, cfg.Database.ReaderConns)
	if err != nil {
		_ = writer.Close()
		return nil, nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	pool := db.NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3))
	store, err := New(pool, dialect.SQLite3)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func providePostgres(cfg *config.Config) (*Store, func() error, error) {
	conn, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlxDB := sqlx.NewDb(conn, dialect.PGX)
	pool := db.NewPool(sqlxDB, sqlxDB)
	store, err := New(pool, dialect.PGX)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}
