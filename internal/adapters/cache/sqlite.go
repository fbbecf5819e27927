package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // driver

	"github.com/jobrunner/cuenca/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore implements output.ResultStore on a local SQLite file.
// created_at holds Unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// OpenSQLiteStore opens or creates the result database at path. Rows older
// than maxAge are neither served nor kept; 0 keeps rows forever.
func OpenSQLiteStore(ctx context.Context, path string, maxAge time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	s := &SQLiteStore{db: db, path: path, maxAge: maxAge, now: time.Now}
	if err := s.Prune(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// cutoff returns the oldest created_at still served.
func (s *SQLiteStore) cutoff() int64 {
	if s.maxAge <= 0 {
		return 0
	}
	return s.now().Add(-s.maxAge).UnixMilli()
}

// Prune deletes rows older than the maximum age.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.maxAge <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE created_at < ?`, s.cutoff()); err != nil {
		return &domain.StorageError{Operation: "prune", Key: s.path, Err: err}
	}
	return nil
}

// Get implements output.ResultStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM results WHERE key = ? AND created_at >= ?`,
		key, s.cutoff(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	return value, true, nil
}

// Put implements output.ResultStore.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (key, value, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		key, value, s.now().UnixMilli(),
	)
	if err != nil {
		return &domain.StorageError{Operation: "write", Key: key, Err: err}
	}
	return nil
}

// Count returns the number of stored results.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close implements output.ResultStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
