package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSqlite opens (creating if absent) a sqlite database at path,
// applies migrations, and returns a Store backed by it.
func NewSqlite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite defaults foreign_keys off per connection; the
	// tokens -> users ON DELETE CASCADE relied on in DeleteUser needs
	// it on for every connection the pool hands out.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable sqlite foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable sqlite WAL mode: %w", err)
	}

	if err := runMigrations(db, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &sqlStore{db: db, dialect: "sqlite"}, nil
}
