// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/mia-platform/tallysync/internal/config"
)

var (
	// ErrUnsupportedDSN is returned by Open for connection strings of unknown databases.
	ErrUnsupportedDSN = errors.New("unsupported database dsn")
)

// Dialect identifies the SQL flavour of an open database.
type Dialect int

const (
	Postgres Dialect = iota + 1
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite3"
	default:
		return "unknown"
	}
}

// Rebind rewrites "?" placeholders as "$n" for PostgreSQL; SQLite queries are returned unchanged.
// Question marks inside single quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	rebound := new(strings.Builder)
	rebound.Grow(len(query) + 16)
	position := 0
	inLiteral := false
	for _, char := range query {
		switch {
		case char == '\'':
			inLiteral = !inLiteral
			rebound.WriteRune(char)
		case char == '?' && !inLiteral:
			position++
			rebound.WriteByte('$')
			rebound.WriteString(strconv.Itoa(position))
		default:
			rebound.WriteRune(char)
		}
	}
	return rebound.String()
}

func (d Dialect) columnType(kind config.ColumnType) string {
	switch kind {
	case config.ColumnNumber:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case config.ColumnDate:
		return "DATE"
	case config.ColumnBool:
		return "BOOLEAN"
	case config.ColumnTimestamp:
		return d.timestampType()
	default:
		return "TEXT"
	}
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// TimestampParam returns a placeholder typed as a timestamp, for the select
// lists where PostgreSQL cannot infer the type of a parameter.
func (d Dialect) TimestampParam() string {
	if d == Postgres {
		return "CAST(? AS TIMESTAMPTZ)"
	}
	return "?"
}

// DaysBetween returns an expression computing the days elapsed from the earlier to the later date expression.
func (d Dialect) DaysBetween(later, earlier string) string {
	if d == Postgres {
		return fmt.Sprintf("(CAST(%s AS DATE) - CAST(%s AS DATE))", later, earlier)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s))", later, earlier)
}

func (d Dialect) serialPrimaryKey() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// DB is an open relational store.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database described by dsn.
// postgres:// and postgresql:// URLs use lib/pq; sqlite://<path> and file: URIs use go-sqlite3.
func Open(ctx context.Context, dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return open(ctx, Postgres, "postgres", dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("%w: missing sqlite path", ErrUnsupportedDSN)
		}
		return open(ctx, SQLite, "sqlite3", path)
	case strings.HasPrefix(dsn, "file:"):
		return open(ctx, SQLite, "sqlite3", dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, redact(dsn))
	}
}

func open(ctx context.Context, dialect Dialect, driverName, dsn string) (*DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// a single connection serializes writers and keeps the pragmas applied
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == SQLite {
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &DB{db: db, dialect: dialect}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Dialect returns the SQL flavour of the database.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// ExecContext rebinds and executes query.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryContext rebinds and runs query.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryRowContext rebinds and runs query, returning at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// Tx is a transaction whose statements are rebound like the ones of DB.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext rebinds and executes query inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryContext rebinds and runs query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// WithTx runs fn in a transaction, committing when it returns nil and rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&Tx{tx: tx, dialect: d.dialect}); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return errors.Join(err, rollbackErr)
		}
		return err
	}
	return tx.Commit()
}

// MaxSyncedAt returns the most recent synced_at stored in table for tenant, or nil when the tenant has no rows.
func (d *DB) MaxSyncedAt(ctx context.Context, table, tenant string) (*time.Time, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s = ?",
		QuoteIdentifier(config.SyncedAtColumn), QuoteIdentifier(table), QuoteIdentifier(config.TenantColumn))

	var value any
	if err := d.QueryRowContext(ctx, query, tenant).Scan(&value); err != nil {
		return nil, err
	}

	return ParseTime(value)
}

// ParseTime converts a timestamp scanned from either driver to a UTC time.
// SQLite returns aggregated timestamps as text, PostgreSQL as time.Time.
func ParseTime(value any) (*time.Time, error) {
	var raw string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		utc := v.UTC()
		return &utc, nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return nil, fmt.Errorf("unexpected timestamp type %T", value)
	}

	raw = strings.TrimSuffix(strings.TrimSpace(raw), "Z")
	if raw == "" {
		return nil, nil
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparsable timestamp %q", raw)
}

// QuoteIdentifier quotes name for use as a table or column identifier.
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func redact(dsn string) string {
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		return dsn[:idx] + "://..."
	}
	return "..."
}
