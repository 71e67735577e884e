package postgres

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
)

//go:embed schema.sql
var schema string

// migrationLock serialises Migrate across replicas starting at once.
const migrationLock = 73110

// Migrate applies schema.sql in one transaction under an advisory lock.
func (s *Postgres) Migrate() error {
	tx, err := s.Db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return err
	}
	n := 0
	for _, stmt := range strings.Split(schema, ";") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := tx.Exec(st); err != nil {
			return fmt.Errorf("postgres migrate statement %d: %w", n+1, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("schema_applied", "driver", "postgres", "statements", n)
	return nil
}
