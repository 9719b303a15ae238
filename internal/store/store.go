package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Something is the sample entity persisted by the loadData endpoint.
type Something struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Store persists Something rows in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and applies the schema.
// Tests use "file:<name>?mode=memory&cache=shared".
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS something (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`)
	return err
}

// Save inserts item and returns a copy carrying the generated id. An item
// that already has an id is updated in place.
func (s *Store) Save(ctx context.Context, item *Something) (*Something, error) {
	if item == nil {
		return nil, errors.New("store: nil item")
	}

	if item.ID != 0 {
		res, err := s.db.ExecContext(ctx, `UPDATE something SET name = ? WHERE id = ?`, item.Name, item.ID)
		if err != nil {
			return nil, fmt.Errorf("store: update %d: %w", item.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("store: update %d: %w", item.ID, sql.ErrNoRows)
		}
		out := *item
		return &out, nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO something (name) VALUES (?)`, item.Name)
	if err != nil {
		return nil, fmt.Errorf("store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: insert id: %w", err)
	}
	return &Something{ID: id, Name: item.Name}, nil
}

// Get loads one row by id. Missing rows return sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id int64) (*Something, error) {
	var out Something
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM something WHERE id = ?`, id).Scan(&out.ID, &out.Name)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM something`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
