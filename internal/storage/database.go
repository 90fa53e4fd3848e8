// Package storage persists voice events, conversation turns, and form drafts
// in SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// Database wraps the SQLite handle shared by every store.
type Database struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates the parent directory, opens path, applies pragmas, and
// migrates the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Database, error) {
	if path == "" {
		return nil, errors.New("storage: database path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps WAL writers serialized inside the process.
	db.SetMaxOpenConns(1)

	if err := configure(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Debug("database opened", "path", path)
	return &Database{db: db, path: path, logger: logger}, nil
}

func configure(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Close checkpoints the WAL and closes the handle.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.logger.Warn("wal checkpoint failed", "error", err)
	}
	return d.db.Close()
}
