// CLAUDE:SUMMARY SQLite-backed temp files for raw heap snapshot streams: buffered chunk writer, ordered copy-out for save, removal on dispose.
// Package tempstore keeps the raw serialized form of captured snapshots so
// they can be saved after the stream has been parsed and dropped.
//
// A temp file is a row in temp_files plus ordered rows in temp_chunks.
// Temp files do not survive a restart: Open purges leftovers.
package tempstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/heapview/dbopen"
	"github.com/hazyhaar/heapview/idgen"
)

// Schema creates the temp store tables.
const Schema = `
CREATE TABLE IF NOT EXISTS temp_files (
	id          TEXT PRIMARY KEY,
	prefix      TEXT NOT NULL,
	name        TEXT NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	finished    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS temp_chunks (
	file_id  TEXT NOT NULL REFERENCES temp_files(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (file_id, seq)
);
`

// DefaultFlushBytes is the writer buffer size before a flush.
const DefaultFlushBytes = 1 << 20

// Store is a temp file namespace over one database.
type Store struct {
	db         *sql.DB
	ownsDB     bool
	newID      idgen.Generator
	flushBytes int
	cacheKiB   int
	logger     *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator overrides temp file id generation.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// WithFlushBytes sets the writer buffer size.
func WithFlushBytes(n int) Option { return func(s *Store) { s.flushBytes = n } }

// WithCacheKiB sets the page cache of a store opened by Open.
func WithCacheKiB(n int) Option { return func(s *Store) { s.cacheKiB = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// Open opens or creates a store database at path and purges leftovers.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := newStore(nil, opts)
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema), dbopen.WithCacheKiB(s.cacheKiB))
	if err != nil {
		return nil, fmt.Errorf("tempstore: %w", err)
	}
	s.db, s.ownsDB = db, true
	if err := s.Purge(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database, creating the schema if needed.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("tempstore: schema: %w", err)
	}
	return newStore(db, opts), nil
}

func newStore(db *sql.DB, opts []Option) *Store {
	s := &Store{db: db, newID: idgen.TempFile, flushBytes: DefaultFlushBytes, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Purge removes every temp file.
func (s *Store) Purge(ctx context.Context) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM temp_chunks`); err != nil {
			return fmt.Errorf("tempstore: purge chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM temp_files`); err != nil {
			return fmt.Errorf("tempstore: purge files: %w", err)
		}
		return nil
	})
}

// Count returns the number of temp files, finished or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM temp_files`).Scan(&n)
	return n, err
}

// NewWriter starts a temp file. The row is created on first flush.
func (s *Store) NewWriter(prefix, name string) *Writer {
	return &Writer{store: s, id: s.newID(), prefix: prefix, name: name}
}

// File is a finished temp file.
type File struct {
	store *Store
	id    string
	size  int64
}

// ID returns the temp file id.
func (f *File) ID() string { return f.id }

// Size returns the byte length.
func (f *File) Size() int64 { return f.size }

// CopyTo streams the file to w in write order. progress, if set, is called
// after every chunk with the bytes written so far.
func (f *File) CopyTo(ctx context.Context, w io.Writer, progress func(done, total int64)) error {
	rows, err := f.store.db.QueryContext(ctx,
		`SELECT data FROM temp_chunks WHERE file_id = ? ORDER BY seq`, f.id)
	if err != nil {
		return fmt.Errorf("tempstore: read %s: %w", f.id, err)
	}
	defer rows.Close()

	var done int64
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("tempstore: scan %s: %w", f.id, err)
		}
		n, err := w.Write(data)
		done += int64(n)
		if err != nil {
			return fmt.Errorf("tempstore: copy %s: %w", f.id, err)
		}
		if progress != nil {
			progress(done, f.size)
		}
	}
	return rows.Err()
}

// Remove deletes the file and its chunks.
func (f *File) Remove(ctx context.Context) error {
	return removeFile(ctx, f.store.db, f.id)
}

func removeFile(ctx context.Context, db *sql.DB, id string) error {
	return dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM temp_chunks WHERE file_id = ?`, id); err != nil {
			return fmt.Errorf("tempstore: remove chunks %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM temp_files WHERE id = ?`, id); err != nil {
			return fmt.Errorf("tempstore: remove %s: %w", id, err)
		}
		return nil
	})
}

func now() int64 { return time.Now().UnixMilli() }
