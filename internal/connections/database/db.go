package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"restaurant-pos/internal/config"
)

// Open connects to the configured engine, applies the embedded migrations and
// returns the store.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch cfg.Driver {
	case "sqlite":
		dialect = SQLite
		db, err = OpenSQLite(cfg.Path)
	default:
		dialect = Postgres
		db, err = ConnectPostgres(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewStore(db, dialect, cfg.TxTimeout), nil
}

// ConnectPostgres opens a pgx-backed pool and waits for the server to answer.
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
		pingTTL    = 5 * time.Second
	)

	var (
		db  *sql.DB
		err error
	)
	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("pgx", cfg.DSN())
		if err != nil {
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("db open canceled: %w", ctx.Err())
			}
		}
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		db.SetConnMaxLifetime(30 * time.Minute)

		pctx, cancel := context.WithTimeout(ctx, pingTTL)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return db, nil
		}
		_ = db.Close()

		select {
		case <-time.After(retryDelay):
			continue
		case <-ctx.Done():
			return nil, fmt.Errorf("db ping canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, err)
}

// OpenSQLite opens a file-backed SQLite database. A single connection keeps
// writers serialized and avoids SQLITE_BUSY between pooled connections.
func OpenSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}
