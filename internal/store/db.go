// Package store provides the SQLite-backed governance catalog: a
// derived, rebuildable query index over the season/batch filesystem
// state that internal/governance owns authoritatively.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Profile selects the PRAGMA set a catalog database opens with.
type Profile string

const (
	// ProfileLedger maximizes durability for the append-only policy
	// decision log — fsync after every write, never auto-vacuum.
	ProfileLedger Profile = "ledger"
	// ProfileStandard balances durability and throughput for the
	// season/batch catalog rows.
	ProfileStandard Profile = "standard"
)

// DB wraps a *sql.DB opened against one of the fixed profiles.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Config names the database file and its profile.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// Open connects to (and creates if absent) a SQLite catalog database
// under cfg.Path, configured per cfg.Profile.
func Open(cfg Config) (*DB, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database dir: %w", err)
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(absPath, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Name, err)
	}
	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: absPath, profile: cfg.Profile, name: cfg.Name}, nil
}

func connectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileStandard:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=cache_size(-32000)"
	return connStr
}

func configurePool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(1 * time.Hour)
	conn.SetConnMaxIdleTime(10 * time.Minute)
	if profile == ProfileLedger {
		// The decision log is append-only and single-writer: one
		// connection avoids interleaved writes against the same file.
		conn.SetMaxOpenConns(1)
	}
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying *sql.DB for repositories that need it
// directly.
func (db *DB) Conn() *sql.DB { return db.conn }

// Name returns the friendly database name used in error messages.
func (db *DB) Name() string { return db.name }

// ExecContext executes a statement without returning rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query returning rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}
