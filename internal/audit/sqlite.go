package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditStore on a local SQLite file. It exists
// for development and single-host deployments without AWS credentials.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_objects (
		key          TEXT PRIMARY KEY,
		content      BLOB NOT NULL,
		content_type TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_objects (key, content, content_type) VALUES (?, ?, ?)`,
		key, body, contentType)
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", key, err)
	}
	return nil
}

// Get reads back a stored object. Used by the status command and tests.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var content []byte
	var contentType string
	err := s.db.QueryRowContext(ctx,
		`SELECT content, content_type FROM audit_objects WHERE key = ?`, key).
		Scan(&content, &contentType)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return content, contentType, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
