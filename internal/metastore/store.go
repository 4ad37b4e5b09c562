// Package metastore persists structured metadata about observed files in an
// embedded SQLite database: one row per file (path, content digest, size,
// mtime) plus a per-file key/value property bag.
package metastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"docmeta-go/internal/core"
	"docmeta-go/internal/digest"
	"docmeta-go/internal/metastore/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultFileName is the database file name used when Init is called with
// an empty path.
const DefaultFileName = "metadata.db"

// SearchResult is a single hit from Search.
type SearchResult struct {
	Path  string
	Key   string
	Value string
}

// Store is the process-wide metadata store. All public operations are
// safe for concurrent use; a single mutex guards the connection, the
// initialized flag, and the explicit-transaction slot.
type Store struct {
	mu          sync.Mutex
	db          *sql.DB
	path        string
	initialized bool
	tx          *sql.Tx

	logger core.Logger
	clock  core.Clock
}

// New creates an uninitialized Store. Call Init before any other operation.
func New(logger core.Logger, clock core.Clock) *Store {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Store{logger: logger, clock: clock}
}

// Init opens (or creates) the database file, enables foreign key
// enforcement, and migrates the schema. An empty path selects
// DefaultFileName under the platform application-data directory, creating
// the directory if missing. Init is idempotent: a second call is a no-op.
func (s *Store) Init(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if path == "" {
		var err error
		path, err = defaultDBPath()
		if err != nil {
			return err
		}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward
	// compatibility); the metadata cascade depends on them.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return fmt.Errorf("migrating schema: %w", err)
	}

	s.db = db
	s.path = path
	s.initialized = true
	s.logger.Info("metadata store initialized", "path", path)
	return nil
}

// defaultDBPath returns the platform application-data location of the
// metadata database.
func defaultDBPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine application data directory: %w", err)
	}
	return filepath.Join(dir, "docmeta", DefaultFileName), nil
}

// IsInitialized reports whether Init has completed successfully.
func (s *Store) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Path returns the database file path. Empty before Init.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// conn returns the active explicit transaction if one is open, otherwise
// the plain connection. Callers must hold s.mu.
func (s *Store) conn() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// fail logs an engine error and converts it to a StoreError.
func (s *Store) fail(op string, err error) error {
	s.logger.Error("database operation failed", "op", op, "error", err.Error())
	return &StoreError{Op: op, Message: err.Error()}
}

// StorePath computes the SHA-256 digest of the file at path, upserts the
// file row (id and created_at are preserved across upserts of the same
// path), and upserts every (key, value) pair in props. Keys must be
// non-empty. A failing key does not abort the batch; if any key failed the
// successful ones remain stored and a *PartialError is returned. Unless an explicit transaction is open,
// the whole operation runs in its own transaction.
func (s *Store) StorePath(path string, props map[string]string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}

	sum, err := digest.Compute(path, digest.SHA256)
	if err != nil {
		return fmt.Errorf("computing digest: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	ownTx := s.tx == nil
	var q querier
	if ownTx {
		tx, err := s.db.Begin()
		if err != nil {
			return s.fail("store", err)
		}
		defer tx.Rollback()
		q = tx
	} else {
		q = s.tx
	}

	now := s.clock.Now().Unix()

	_, err = q.Exec(`
		INSERT INTO files (path, digest, size, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			digest        = excluded.digest,
			size          = excluded.size,
			last_modified = excluded.last_modified`,
		path, sum, info.Size(), info.ModTime().Unix(), now)
	if err != nil {
		return s.fail("store", err)
	}

	// The upsert may have updated an existing row, in which case
	// LastInsertId is meaningless; resolve the id by path instead.
	var fileID int64
	if err := q.QueryRow(`SELECT id FROM files WHERE path = ?`, path).Scan(&fileID); err != nil {
		return s.fail("store", err)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var failures []KeyFailure
	for _, k := range keys {
		if k == "" {
			failures = append(failures, KeyFailure{Key: k, Message: "empty key"})
			continue
		}
		_, err := q.Exec(`
			INSERT INTO metadata (file_id, key, value, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (file_id, key) DO UPDATE SET value = excluded.value`,
			fileID, k, props[k], now)
		if err != nil {
			s.logger.Error("storing metadata key failed", "path", path, "key", k, "error", err.Error())
			failures = append(failures, KeyFailure{Key: k, Message: err.Error()})
		}
	}

	if ownTx {
		if err := q.(*sql.Tx).Commit(); err != nil {
			return s.fail("store", err)
		}
	}

	if len(failures) > 0 {
		return &PartialError{Path: path, Total: len(props), Failures: failures}
	}
	return nil
}

// Retrieve returns all metadata key/value pairs for path. An unknown path
// yields an empty map, not an error.
func (s *Store) Retrieve(path string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	rows, err := s.conn().Query(`
		SELECT m.key, m.value
		FROM metadata m
		JOIN files f ON f.id = m.file_id
		WHERE f.path = ?`, path)
	if err != nil {
		return nil, s.fail("retrieve", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, s.fail("retrieve", err)
		}
		result[key] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("retrieve", err)
	}
	return result, nil
}

// Remove deletes the file row for path; the metadata rows cascade.
// Returns ErrNotFound if the path is not in the store.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	res, err := s.conn().Exec(`DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return s.fail("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("remove", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s.logger.Debug("file record removed", "path", path)
	return nil
}

// escapeLike escapes the LIKE wildcard characters so a user-supplied
// query matches them literally. The backslash must be escaped first.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Search returns every metadata entry whose value contains query as a
// literal substring. If keyFilter is non-empty, only entries whose key is
// in the filter are considered. An empty query is an error.
func (s *Store) Search(query string, keyFilter []string) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	sqlQuery := `
		SELECT f.path, m.key, m.value
		FROM metadata m
		JOIN files f ON f.id = m.file_id
		WHERE m.value LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}

	if len(keyFilter) > 0 {
		placeholders := strings.Repeat("?, ", len(keyFilter))
		sqlQuery += " AND m.key IN (" + placeholders[:len(placeholders)-2] + ")"
		for _, k := range keyFilter {
			args = append(args, k)
		}
	}
	sqlQuery += " ORDER BY f.path, m.key"

	rows, err := s.conn().Query(sqlQuery, args...)
	if err != nil {
		return nil, s.fail("search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var value sql.NullString
		if err := rows.Scan(&r.Path, &r.Key, &value); err != nil {
			return nil, s.fail("search", err)
		}
		r.Value = value.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("search", err)
	}
	return results, nil
}

// AllKeys returns every distinct metadata key, ascending.
func (s *Store) AllKeys() ([]string, error) {
	return s.stringColumn("all keys", `SELECT DISTINCT key FROM metadata ORDER BY key ASC`)
}

// AllPaths returns every stored file path, ascending.
func (s *Store) AllPaths() ([]string, error) {
	return s.stringColumn("all paths", `SELECT DISTINCT path FROM files ORDER BY path ASC`)
}

func (s *Store) stringColumn(op, query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	rows, err := s.conn().Query(query)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

// EntryCount returns the total number of metadata rows.
func (s *Store) EntryCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	var n int64
	if err := s.conn().QueryRow(`SELECT COUNT(*) FROM metadata`).Scan(&n); err != nil {
		return 0, s.fail("entry count", err)
	}
	return n, nil
}

// Begin opens an explicit transaction for callers batching many StorePath
// calls. Transactions do not nest.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.tx != nil {
		return fmt.Errorf("transaction already open")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return s.fail("begin", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the explicit transaction. Committing without a pending
// transaction is logged but is not an error to the caller.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.tx == nil {
		s.logger.Warn("commit called without a pending transaction")
		return nil
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// Rollback aborts the explicit transaction. Rolling back without a pending
// transaction is logged but is not an error to the caller.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.tx == nil {
		s.logger.Warn("rollback called without a pending transaction")
		return nil
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return s.fail("rollback", err)
	}
	return nil
}

// Vacuum runs the engine's space-reclaim command. It may take time
// proportional to the database size and holds the store lock throughout.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.tx != nil {
		return fmt.Errorf("cannot vacuum inside an open transaction")
	}

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return s.fail("vacuum", err)
	}
	return nil
}

// BackupTo writes a complete snapshot of the database to destPath using
// VACUUM INTO.
func (s *Store) BackupTo(destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.tx != nil {
		return fmt.Errorf("cannot back up inside an open transaction")
	}

	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return s.fail("backup", err)
	}
	return nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *Store) CheckMigrations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return migrations.CheckStatus(s.db)
}

// Close rolls back any pending transaction and closes the connection.
// The store can be re-initialized afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}

	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	s.db = nil
	s.path = ""
	s.initialized = false
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
