package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// OpenSQLite creates or opens a SQLite layer store at path.
//
// The database is configured with:
//   - WAL mode for file databases
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// SQLite only supports one writer at a time, so the pool is limited to one connection.
// This also keeps a ":memory:" database alive for the lifetime of the store.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(ctx, db, path != MemoryPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	store, err := newSQLStore(ctx, db, KindSQLite, sqliteDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB, wal bool) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if wal {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
