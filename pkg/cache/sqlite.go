package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteBackend stores everything in a single SQLite database file, which is
// the on-device option when no Redis is around.
type SQLiteBackend struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteBackend opens (or creates) the database at filename.
// If filename is empty, a shared in-memory database is used.
func NewSQLiteBackend(filename string) (*SQLiteBackend, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", filename, err)
	}

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			PRIMARY KEY (store, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &SQLiteBackend{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteBackend) Stores(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteBackend) CreateStore(ctx context.Context, store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", store)
	if err != nil {
		return fmt.Errorf("create store %s: %w", store, err)
	}
	return nil
}

func (s *SQLiteBackend) DropStore(ctx context.Context, store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop store: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", store); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete entries of %s: %w", store, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", store); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete store %s: %w", store, err)
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Get(ctx context.Context, store, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM entries WHERE store = ? AND key = ?", store, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("select entry: %w", err)
	}
	return value, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, store, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", store); err != nil {
		tx.Rollback()
		return fmt.Errorf("register store %s: %w", store, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (store, key, value) VALUES (?, ?, ?)", store, key, value,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Delete(ctx context.Context, store, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE store = ? AND key = ?", store, key)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Keys(ctx context.Context, store string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE store = ? ORDER BY key", store)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
