// Package sqlexec adapts a bun database to replica.Executor.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-cache-router/replica"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Options describes one database connection pool.
type Options struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database described by opts with the matching bun
// dialect. The connection is not verified; call Ping for that.
func Open(opts Options) (*bun.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("sqlexec: dsn is required")
	}

	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)
	switch opts.Driver {
	case DriverPostgres:
		if sqldb, err = sql.Open("postgres", opts.DSN); err != nil {
			return nil, fmt.Errorf("sqlexec: open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite:
		if sqldb, err = sql.Open("sqlite3", opts.DSN); err != nil {
			return nil, fmt.Errorf("sqlexec: open sqlite: %w", err)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("sqlexec: unsupported driver %q", opts.Driver)
	}

	if opts.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}

// Executor runs raw queries through bun. Placeholders use bun's '?' syntax
// and are formatted by the dialect.
type Executor struct {
	db *bun.DB
}

var _ replica.Executor = (*Executor)(nil)

func New(db *bun.DB) *Executor {
	return &Executor{db: db}
}

// DB returns the underlying bun database.
func (e *Executor) DB() *bun.DB { return e.db }

func (e *Executor) Execute(ctx context.Context, query string, params ...any) (replica.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]interface{}, 0)
	if err := e.db.ScanRows(ctx, rows, &out); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Executor) Close() error {
	return e.db.Close()
}
