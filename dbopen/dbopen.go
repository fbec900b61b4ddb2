// CLAUDE:SUMMARY Opens the SQLite capture store database with scratch-data pragmas; single connection for in-memory stores.
// Package dbopen opens the SQLite database behind the capture store. It
// registers the modernc.org/sqlite driver.
//
// Pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL (file) or MEMORY (":memory:")
//	synchronous  = OFF
//	temp_store   = MEMORY
//	busy_timeout = 5000
//
// Usage:
//
//	db, err := dbopen.Open("captures.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type config struct {
	busyTimeout int
	cacheKiB    int
	mkdirAll    bool
	schemas     []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithCacheKiB sets the page cache size. Default: the SQLite default.
func WithCacheKiB(kib int) Option { return func(c *config) { c.cacheKiB = kib } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to execute after the pragmas.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// Open opens the database at path. Captures are scratch data: a crash
// loses only the captures in flight, so writes are not synced.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 5000}
	for _, o := range opts {
		o(&cfg)
	}

	inMemory := path == Memory
	if cfg.mkdirAll && !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if inMemory {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	journal := "WAL"
	if inMemory {
		journal = "MEMORY"
	}
	stmts := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = " + journal,
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
	}
	if cfg.cacheKiB > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA cache_size = -%d", cfg.cacheKiB))
	}
	stmts = append(stmts, cfg.schemas...)
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", firstLine(s), err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
