package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/amishk599/leadscout/internal/store/migrations"
)

// OpenSQLite opens (or creates) a SQLite database at dbPath and applies pending migrations.
func OpenSQLite(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}

	return newStore(db, migrations.SQLite, opts...), nil
}
