package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/amishk599/leadscout/internal/store/migrations"
)

// OpenPostgres connects to PostgreSQL through the pgx database/sql driver and applies
// pending migrations.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres db: %w", err)
	}

	if err := migrations.Run(db, migrations.Postgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating postgres db: %w", err)
	}

	return newStore(db, migrations.Postgres, opts...), nil
}

// NewPostgres wraps an already-migrated postgres handle.
func NewPostgres(db *sql.DB, opts ...Option) *Store {
	return newStore(db, migrations.Postgres, opts...)
}
