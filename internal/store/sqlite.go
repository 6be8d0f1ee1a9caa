package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// SchemaVersion is bumped whenever the table layout changes.
const SchemaVersion = 1

const defaultReadConns = 4

// Options tunes an SQLiteStore. Zero values select defaults.
type Options struct {
	// ReadConns bounds the read pool.
	ReadConns int

	// BusyRetry governs local retries of SQLITE_BUSY and SQLITE_LOCKED.
	BusyRetry ierrors.RetryConfig

	// Now overrides the clock used for lease decisions.
	Now func() time.Time
}

// SQLiteStore is the index database. Writes go through a single-connection
// pool that begins every transaction with BEGIN IMMEDIATE; reads use a
// separate pool so WAL snapshots are served while a write is in flight.
type SQLiteStore struct {
	path   string
	writer *sql.DB
	reader *sql.DB

	busyRetry ierrors.RetryConfig
	now       func() time.Time
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if opts.ReadConns <= 0 {
		opts.ReadConns = defaultReadConns
	}
	if opts.BusyRetry.Multiplier == 0 {
		opts.BusyRetry = ierrors.BusyRetryConfig()
	}
	opts.BusyRetry.ShouldRetry = isBusy
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ierrors.DatabaseError("create index directory", err).WithDetail("path", path)
	}

	s := &SQLiteStore{
		path:      path,
		busyRetry: opts.BusyRetry,
		now:       opts.Now,
	}

	lock := newSchemaLock(path)
	if err := lock.Lock(ctx); err != nil {
		return nil, ierrors.DatabaseError("lock index schema", err).WithDetail("path", path)
	}
	defer func() { _ = lock.Unlock() }()

	var err error
	s.writer, err = openPool(path, true, 1)
	if err != nil {
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = s.writer.Close()
		return nil, err
	}
	if err := s.quickCheck(ctx); err != nil {
		_ = s.writer.Close()
		return nil, err
	}

	s.reader, err = openPool(path, false, opts.ReadConns)
	if err != nil {
		_ = s.writer.Close()
		return nil, err
	}

	slog.Debug("index_store_opened", slog.String("path", path))
	return s, nil
}

// OpenWorkspace opens the database for a workspace root.
func OpenWorkspace(ctx context.Context, root string, opts Options) (*SQLiteStore, error) {
	return Open(ctx, DatabasePath(root), opts)
}

// openPool opens a connection pool. Pragmas are applied per connection via
// the DSN since both pools may open new connections at any time.
func openPool(path string, write bool, conns int) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(1000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if write {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Set("_txlock", "immediate")
	} else {
		q.Add("_pragma", "query_only(1)")
	}
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.DatabaseError("open index database", err).WithDetail("path", path)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ierrors.DatabaseError("open index database", err).WithDetail("path", path)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS files (
	path          TEXT PRIMARY KEY,
	last_modified INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	file_path    TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	ordinal      INTEGER NOT NULL,
	start_byte   INTEGER NOT NULL,
	end_byte     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	symbol_name  TEXT NOT NULL DEFAULT '',
	symbol_type  TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	embedding    BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path);

CREATE TABLE IF NOT EXISTS lease (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	holder_id  TEXT NOT NULL,
	epoch      INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS index_state (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	ready           INTEGER NOT NULL DEFAULT 0,
	last_indexed_at INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_dims  INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO index_state (id) VALUES (1);
`

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	return s.write(ctx, "initialize schema", nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return err
		}
		var version int
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
		if err != nil {
			return err
		}
		if version > SchemaVersion {
			return fmt.Errorf("index schema version %d is newer than supported %d", version, SchemaVersion)
		}
		_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion)
		return err
	})
}

func (s *SQLiteStore) quickCheck(ctx context.Context) error {
	var result string
	if err := s.writer.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return ierrors.DatabaseError("integrity check", err).WithDetail("path", s.path)
	}
	if result != "ok" {
		return ierrors.DatabaseError("index database failed integrity check",
			ierrors.New(ierrors.ErrCodeCorruptIndex, result, nil)).
			WithDetail("path", s.path).
			WithSuggestion("delete the index directory and let the leader rebuild it")
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes both pools.
func (s *SQLiteStore) Close() error {
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
	}
	if s.writer != nil {
		// Another process may still hold readers; a busy checkpoint is fine.
		_, _ = s.writer.Exec(`PRAGMA wal_checkpoint(PASSIVE)`)
		errs = append(errs, s.writer.Close())
	}
	return errors.Join(errs...)
}

// write runs fn in one BEGIN IMMEDIATE transaction, verifying fence first
// when non-nil. Lock contention is retried with backoff; a fencing
// failure or any other error is returned without retry.
func (s *SQLiteStore) write(ctx context.Context, op string, fence *Fence, fn func(tx *sql.Tx) error) error {
	err := ierrors.Retry(ctx, s.busyRetry, func() error {
		tx, err := s.writer.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if fence != nil {
			if err := s.checkFence(ctx, tx, *fence); err != nil {
				return err
			}
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
	return s.classify(op, err)
}

// read runs fn in one read transaction, so every statement inside sees the
// same snapshot.
func (s *SQLiteStore) read(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := ierrors.Retry(ctx, s.busyRetry, func() error {
		tx, err := s.reader.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		return fn(tx)
	})
	return s.classify(op, err)
}

// classify maps driver errors onto the index error codes. Structured
// errors and context cancellation pass through untouched.
func (s *SQLiteStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		return err
	}
	if isBusy(err) {
		return ierrors.New(ierrors.ErrCodeDatabaseBusy, op+": database is locked", err).WithDetail("path", s.path)
	}
	return ierrors.DatabaseError(op, err).WithDetail("path", s.path)
}

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
