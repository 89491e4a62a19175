package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"restaurant-pos/internal/apperr"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the explicitly constructed handle every component receives.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	txTimeout time.Duration
}

func NewStore(db *sql.DB, dialect Dialect, txTimeout time.Duration) *Store {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &Store{db: db, dialect: dialect, txTimeout: txTimeout}
}

func (s *Store) DB() Querier      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) SQL() *sql.DB     { return s.db }
func (s *Store) Close() error     { return s.db.Close() }

// Rebind rewrites ? placeholders for the store's dialect.
func (s *Store) Rebind(query string) string { return s.dialect.Rebind(query) }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is a transaction with hooks that run only after a successful commit.
type Tx struct {
	*sql.Tx
	afterCommit []func()
}

// AfterCommit registers fn to run once the transaction commits. Rolled back
// transactions drop their hooks.
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// WithTx runs fn inside one transaction bounded by the store timeout. Any error
// returned by fn rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MapError(ctx, "begin transaction", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := &Tx{Tx: sqlTx}
	if err := fn(tx); err != nil {
		return MapError(ctx, "transaction", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return MapError(ctx, "commit transaction", err)
	}
	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// MapError leaves classified errors untouched, turns deadline and lock-wait
// failures into apperr timeouts and wraps everything else with op.
func MapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		pgconn.Timeout(err) || isSQLiteBusy(err) {
		return apperr.Timeout("store unavailable", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports a unique or primary key constraint failure on either engine.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

func isSQLiteBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

func ToMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func FromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// NullMillis converts an optional timestamp column.
func NullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

func MillisOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ToMillis(*t), Valid: true}
}
