package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres opens a postgres database at dsn, applies migrations, and
// returns a Store backed by it. The connection pool is sized min 1,
// max 2×workerCount (§4.A: postgres has no per-connection state that
// forces sqlite's single-connection serialization).
func NewPostgres(dsn string, workerCount int) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	if workerCount < 1 {
		workerCount = 1
	}
	db.SetMaxOpenConns(2 * workerCount)
	db.SetMaxIdleConns(workerCount)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if err := runMigrations(db, "postgres"); err != nil {
		db.Close()
		return nil, err
	}

	return &sqlStore{db: db, dialect: "postgres"}, nil
}
