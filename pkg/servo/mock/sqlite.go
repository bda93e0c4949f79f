package mock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists items in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed. ":memory:" yields a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("mock: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mock: opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("mock: enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mock: creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			client TEXT NOT NULL,
			key TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (client, key)
		);
	`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, client, key string) (*Item, error) {
	var (
		it        = Item{Client: client, Key: key}
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data, updated_at FROM items WHERE client = ? AND key = ?`,
		client, key,
	).Scan(&it.ContentType, &it.Data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mock: querying item: %w", err)
	}
	it.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("mock: parsing updated_at: %w", err)
	}
	return &it, nil
}

func (s *SQLiteStore) Put(ctx context.Context, item *Item) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mock: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE client = ? AND key = ?`,
		item.Client, item.Key,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("mock: checking item: %w", err)
	}

	data := item.Data
	if data == nil {
		data = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (client, key, content_type, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client, key) DO UPDATE SET
			content_type = excluded.content_type,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, item.Client, item.Key, item.ContentType, data, item.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("mock: writing item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mock: committing item: %w", err)
	}
	return n == 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, client, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE client = ? AND key = ?`, client, key)
	if err != nil {
		return fmt.Errorf("mock: deleting item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mock: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT client) FROM items`,
	).Scan(&st.Items, &st.Clients)
	if err != nil {
		return StoreStats{}, fmt.Errorf("mock: counting items: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
