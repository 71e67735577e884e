package sqlite

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
)

//go:embed schema.sql
var schema string

// Migrate applies schema.sql in one transaction. Every statement is
// idempotent, so it is safe on every start.
func (s *Sqlite) Migrate() error {
	tx, err := s.Db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n := 0
	for _, stmt := range strings.Split(schema, ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := tx.Exec(st); err != nil {
			return fmt.Errorf("sqlite migrate statement %d: %w", n+1, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("schema_applied", "driver", "sqlite", "statements", n)
	return nil
}
