// Package db persists form state in SQLite: the latest snapshot of every
// namespace and an append-only journal of the actions that produced it.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MinBZK/par-dpia-form/internal/logging"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragma is applied on every open. Optional pragmas only warn on failure
// (WAL is unavailable on some filesystems).
type pragma struct {
	sql      string
	optional bool
}

var pragmas = []pragma{
	{sql: "PRAGMA journal_mode=WAL;", optional: true},
	{sql: "PRAGMA busy_timeout=5000;"},
	{sql: "PRAGMA synchronous=NORMAL;", optional: true},
}

// Open opens (creating if needed) the state database at path and brings its
// schema up to date.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One writer; the session serialises access anyway.
	conn.SetMaxOpenConns(1)

	for _, setup := range []func(*sql.DB) error{configure, upgrade} {
		if err := setup(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func configure(conn *sql.DB) error {
	logger := logging.Component("db")
	for _, p := range pragmas {
		if _, err := conn.Exec(p.sql); err != nil {
			if !p.optional {
				return fmt.Errorf("pragma %q: %w", p.sql, err)
			}
			logger.Warn().Err(err).Str("pragma", p.sql).Msg("db: optional pragma not applied")
		}
	}
	return nil
}

func upgrade(conn *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("migrations dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}
	version, err := goose.GetDBVersion(conn)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger := logging.Component("db")
	logger.Debug().Int64("version", version).Msg("db: schema up to date")
	return nil
}
