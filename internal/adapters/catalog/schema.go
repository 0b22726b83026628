package catalog

import (
	"context"
	"fmt"
)

// The schema sticks to SQL both sqlite and postgres accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS country (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grp  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS edition (
		year INTEGER PRIMARY KEY,
		host TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS contest_show (
		id        INTEGER PRIMARY KEY,
		edition   INTEGER NOT NULL REFERENCES edition(year) ON DELETE CASCADE,
		show_type INTEGER NOT NULL,
		UNIQUE (edition, show_type)
	)`,
	`CREATE TABLE IF NOT EXISTS entry (
		id      TEXT PRIMARY KEY,
		title   TEXT NOT NULL DEFAULT '',
		artist  TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL REFERENCES country(code),
		edition INTEGER NOT NULL REFERENCES edition(year) ON DELETE CASCADE,
		UNIQUE (country, edition)
	)`,
	`CREATE TABLE IF NOT EXISTS performance (
		show_id       INTEGER NOT NULL REFERENCES contest_show(id) ON DELETE CASCADE,
		country       TEXT NOT NULL REFERENCES country(code),
		running_order INTEGER NOT NULL,
		PRIMARY KEY (show_id, country)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entry_edition ON entry(edition)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_country ON performance(country)`,
}

// Migrate creates the tables. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// showID derives a stable key so seeding needs no dialect-specific
// auto-increment.
func showID(edition, showType int) int {
	return edition*10 + showType
}
