/*
Package sqlite provides a SQLite-backed docstore.Backend.

PURPOSE:
  Alternative to the file backend when a single database file is preferred
  over a directory of JSON files. Each document is one row; Save is a single
  UPSERT so a reader sees the previous or the new body, never a mix.

KEY TABLES:
  documents:             key -> JSON body (current value)
  documents_quarantine:  bodies that failed to parse, kept for inspection

CONCURRENCY:
  The docstore.Store serializes access per key. The database itself is opened
  in WAL mode so readers of other keys are not blocked by a writer.

USAGE:
  backend, err := sqlite.New("./data/walletdesk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer backend.Close()

  store := docstore.New(backend)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - docstore/backend.go: Backend contract
  - docstore/file.go:    default file backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// Backend implements docstore.Backend using SQLite.
type Backend struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_sync=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and matches the
	// single-writer model of SQLite.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return b, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents_quarantine (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		body TEXT NOT NULL,
		quarantined_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_quarantine_key
		ON documents_quarantine(key);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrAbsent
	}
	if err != nil {
		return nil, &core.StoreIOError{Op: "load", Key: key, Err: err}
	}
	return []byte(body), nil
}

func (b *Backend) Save(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &core.StoreIOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Quarantine copies the current body into documents_quarantine and deletes
// it from documents in one transaction.
func (b *Backend) Quarantine(ctx context.Context, key string) (string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents_quarantine (key, body, quarantined_at)
		SELECT key, body, ? FROM documents WHERE key = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), key,
	)
	if err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", &core.StoreIOError{Op: "quarantine", Key: key, Err: err}
	}
	return fmt.Sprintf("documents_quarantine#%d", id), nil
}

// Quarantined returns the quarantined bodies for key, oldest first.
func (b *Backend) Quarantined(ctx context.Context, key string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM documents_quarantine WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

// Put writes a raw body without going through the store. Tests use it to
// plant corrupt records.
func (b *Backend) Put(ctx context.Context, key, body string) error {
	return b.Save(ctx, key, []byte(body))
}
