package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteEngine stores all databases in one SQLite file.
//
// Tables:
//
//	documents(db_name, collection, id, data)  PRIMARY KEY (db_name, collection, id)
type SqliteEngine struct {
	db *sql.DB
}

func NewSqliteEngine(dbPath string) (*SqliteEngine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps insert/replace checks atomic
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		db_name TEXT NOT NULL,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (db_name, collection, id)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteEngine{db: db}, nil
}

func (s *SqliteEngine) Scan(ctx context.Context, database, collection string, fn func(raw []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM documents WHERE db_name = ? AND collection = ?", database, collection)
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}
	var docs [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return err
		}
		docs = append(docs, []byte(data))
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, raw := range docs {
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqliteEngine) Load(ctx context.Context, database, collection, id string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE db_name = ? AND collection = ? AND id = ?",
		database, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return []byte(data), nil
}

func (s *SqliteEngine) Save(ctx context.Context, database, collection, id string, raw []byte, mode SaveMode) error {
	var (
		result sql.Result
		err    error
	)
	if mode == SaveInsert {
		result, err = s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO documents (db_name, collection, id, data) VALUES (?, ?, ?, ?)",
			database, collection, id, string(raw))
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE documents SET data = ? WHERE db_name = ? AND collection = ? AND id = ?",
			string(raw), database, collection, id)
	}
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if mode == SaveInsert {
			return ErrDuplicate
		}
		return ErrNotFound
	}
	return nil
}

func (s *SqliteEngine) Remove(ctx context.Context, database, collection, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE db_name = ? AND collection = ? AND id = ?",
		database, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteEngine) Collections(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM documents WHERE db_name = ?", database)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SqliteEngine) Drop(ctx context.Context, database, collection string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE db_name = ? AND collection = ?", database, collection)
	return err
}

func (s *SqliteEngine) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SqliteEngine) Close() error {
	return s.db.Close()
}
