package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresEngine stores documents as JSONB rows in the documents table
// created by db/migrations.
type PostgresEngine struct {
	db *sql.DB
}

func NewPostgresEngine(db *sql.DB) *PostgresEngine {
	return &PostgresEngine{db: db}
}

func (p *PostgresEngine) DB() *sql.DB {
	return p.db
}

func (p *PostgresEngine) Scan(ctx context.Context, database, collection string, fn func(raw []byte) error) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT data FROM documents WHERE db_name = $1 AND collection = $2`, database, collection)
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan document row: %w", err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *PostgresEngine) Load(ctx context.Context, database, collection, id string) ([]byte, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE db_name = $1 AND collection = $2 AND id = $3`,
		database, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return raw, nil
}

func (p *PostgresEngine) Save(ctx context.Context, database, collection, id string, raw []byte, mode SaveMode) error {
	var (
		result sql.Result
		err    error
	)
	if mode == SaveInsert {
		result, err = p.db.ExecContext(ctx, `
			INSERT INTO documents (db_name, collection, id, data)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (db_name, collection, id) DO NOTHING
		`, database, collection, id, string(raw))
	} else {
		result, err = p.db.ExecContext(ctx, `
			UPDATE documents SET data = $4::jsonb, updated_at = NOW()
			WHERE db_name = $1 AND collection = $2 AND id = $3
		`, database, collection, id, string(raw))
	}
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	if affected == 0 {
		if mode == SaveInsert {
			return ErrDuplicate
		}
		return ErrNotFound
	}
	return nil
}

func (p *PostgresEngine) Remove(ctx context.Context, database, collection, id string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE db_name = $1 AND collection = $2 AND id = $3`,
		database, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresEngine) Collections(ctx context.Context, database string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents WHERE db_name = $1`, database)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *PostgresEngine) Drop(ctx context.Context, database, collection string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE db_name = $1 AND collection = $2`, database, collection); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	return nil
}

func (p *PostgresEngine) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresEngine) Close() error {
	return p.db.Close()
}
