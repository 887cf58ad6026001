package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"clibin/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    blob BLOB NOT NULL,
    stored_at DATETIME NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create inserts blob under id. Existing rows are left untouched.
func (s *Store) Create(ctx context.Context, id string, blob []byte) error {
	const q = `INSERT INTO pastes (id, blob, stored_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING;`
	res, err := s.db.ExecContext(ctx, q, id, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrExists
	}
	return nil
}

// Read fetches the blob for id.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	const q = `SELECT blob FROM pastes WHERE id = ?;`
	var blob []byte
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query paste: %w", err)
	}
	return blob, nil
}

// Delete removes a paste by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM pastes WHERE id = ?;`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete paste: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListIDs returns all stored ids.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM pastes;`)
	if err != nil {
		return nil, fmt.Errorf("list pastes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pastes: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
