// Package sqlite opens the embedded SQLite database roomchat uses by default.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Sqlite struct {
	Db *sql.DB
}

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// New opens dsn. The pool is pinned to one connection: SQLite has a single
// writer and shared in-memory databases vanish with their last connection.
func New(dsn string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	// in-memory databases answer "memory" instead of switching; that's fine
	_, _ = db.Exec("PRAGMA journal_mode = WAL")

	return &Sqlite{Db: db}, nil
}

func (s *Sqlite) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Sqlite) Close() error {
	return s.Db.Close()
}
