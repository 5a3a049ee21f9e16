package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Options carries what the backends need to open.
type Options struct {
	Backend       string
	DataDir       string
	DatabaseURL   string
	MigrationsDir string
}

// Open creates a Store for the named backend.
//
// Supported backends:
//
//	"badger"   - BadgerDB directory at DataDir/badger (default)
//	"sqlite"   - SQLite database at DataDir/docgate.db
//	"postgres" - Postgres at DatabaseURL, migrated from MigrationsDir
//	"memory"   - in-memory (ephemeral, for testing)
func Open(ctx context.Context, opts Options) (*Store, error) {
	switch opts.Backend {
	case "badger", "":
		engine, err := NewBadgerEngine(filepath.Join(opts.DataDir, "badger"))
		if err != nil {
			return nil, err
		}
		return New(engine), nil
	case "sqlite":
		engine, err := NewSqliteEngine(filepath.Join(opts.DataDir, "docgate.db"))
		if err != nil {
			return nil, err
		}
		return New(engine), nil
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend needs DATABASE_URL")
		}
		db, err := OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if opts.MigrationsDir != "" {
			if err := ApplyMigrations(ctx, db, os.DirFS(opts.MigrationsDir)); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		return New(NewPostgresEngine(db)), nil
	case "memory":
		return New(NewMemoryEngine()), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: badger, sqlite, postgres, memory)", opts.Backend)
	}
}
