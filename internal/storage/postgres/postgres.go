// Package postgres opens the PostgreSQL database used when DB_DRIVER=postgres.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Postgres struct {
	Db *sql.DB
}

// New opens dsn and checks the server answers within five seconds.
func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{Db: db}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.Db.Close()
}
