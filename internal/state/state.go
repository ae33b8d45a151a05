// Package state provides the durable local key/value store backing the
// sync engine.
//
// Conflict queues, strategy overrides, and the device identity survive
// process restarts as JSON blobs under fixed keys in a small SQLite
// database. The database runs embedded with WAL mode so the daemon and a
// one-shot CLI invocation can read concurrently.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Well-known keys.
const (
	KeyPendingConflicts  = "conflict/pending"
	KeyConflictHistory   = "conflict/history"
	KeyStrategyOverrides = "conflict/strategies"
	KeyDeviceID          = "outbox/device_id"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("state: key not found")

// Store is the persistence surface the engine needs: a flat keyed blob
// store. The SQLite implementation is the production one; tests use Mem.
type Store interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous blob.
	Put(key string, value []byte) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string) error

	// Close releases underlying resources.
	Close() error
}

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at path.
//
// The parent directory is created if needed. The caller MUST call Close
// when done.
//
// Example:
//
//	st, err := state.Open(filepath.Join(dir, "state.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create state schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (db *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := db.conn.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state key %q: %w", key, err)
	}
	return value, nil
}

// Put implements Store.
func (db *DB) Put(key string, value []byte) error {
	_, err := db.conn.Exec(`
INSERT INTO state (key, value, updated_at)
VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state key %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec("DELETE FROM state WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete state key %q: %w", key, err)
	}
	return nil
}

// Close implements Store. A WAL checkpoint runs first so the last writes
// land in the main database file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	db.conn = nil
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Mem is an in-memory Store for tests.
type Mem struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{data: make(map[string][]byte)}
}

func (m *Mem) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Mem) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *Mem) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Mem) Close() error { return nil }
