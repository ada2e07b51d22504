package store

import (
	"database/sql"
	"fmt"

	"github.com/amishk599/leadscout/internal/store/migrations"
)

// OpenUnmigrated returns a raw handle for driver ("sqlite" or "postgres") without
// touching the schema. The migrate command uses it to roll back or inspect.
func OpenUnmigrated(driver, target string) (*sql.DB, string, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case migrations.SQLite:
		db, err = sql.Open("sqlite", target+"?_pragma=busy_timeout(5000)")
	case migrations.Postgres:
		db, err = sql.Open("pgx", target)
	default:
		return nil, "", fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, "", fmt.Errorf("opening %s db: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("pinging %s db: %w", driver, err)
	}
	return db, driver, nil
}
