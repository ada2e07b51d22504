// Package migrations embeds the SQL schema for both supported dialects.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialects understood by Setup.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Setup points goose at the migration directory for dialect.
// goose keeps package-level state, so callers must not run two dialects concurrently.
func Setup(dialect string) error {
	var gooseDialect string
	switch dialect {
	case SQLite:
		gooseDialect = "sqlite3"
	case Postgres:
		gooseDialect = "postgres"
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(FS, dialect)
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", dialect, err)
	}
	goose.SetBaseFS(sub)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Run applies all pending migrations.
func Run(db *sql.DB, dialect string) error {
	if err := Setup(dialect); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(db *sql.DB, dialect string) error {
	if err := Setup(dialect); err != nil {
		return err
	}
	if err := goose.Down(db, "."); err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Status writes the applied state of every migration to w.
func Status(db *sql.DB, dialect string, w io.Writer) error {
	if err := Setup(dialect); err != nil {
		return err
	}
	goose.SetLogger(writerLogger{w})
	defer goose.SetLogger(goose.NopLogger())
	if err := goose.Status(db, "."); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

type writerLogger struct{ w io.Writer }

func (l writerLogger) Printf(format string, v ...interface{}) {
	fmt.Fprintf(l.w, format, v...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(l.w)
	}
}

func (l writerLogger) Fatalf(format string, v ...interface{}) {
	l.Printf(format, v...)
}
