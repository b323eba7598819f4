// Package storedb opens SQLite databases and applies versioned schema
// migrations, tracked per module so several packages can share one file.
package storedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jingkaihe/logdispatch/internal/errx"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Path is the database file. The parent directory is created if missing.
	// ":memory:" opens a private in-memory database.
	Path string
	// Module scopes the migration bookkeeping.
	Module     string
	Migrations []Migration
}

// Open opens the database at opts.Path and applies every migration of
// opts.Module newer than the recorded version.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Module == "" {
		return nil, ErrMissingModule
	}
	if err := validate(opts.Migrations); err != nil {
		return nil, err
	}

	dsn := opts.Path
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, errx.With(ErrOpen, ": create directory for %s: %w", opts.Path, err)
		}
		dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, errx.With(ErrOpen, ": %s: %w", opts.Path, err)
	}
	if opts.Path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errx.With(ErrOpen, ": %s: %w", opts.Path, err)
	}
	if err := migrate(db, opts.Module, opts.Migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func validate(migrations []Migration) error {
	seen := make(map[int]struct{}, len(migrations))
	for _, m := range migrations {
		if m.Version < 1 {
			return errx.With(ErrBadMigration, ": version %d of %q must be positive", m.Version, m.Name)
		}
		if _, dup := seen[m.Version]; dup {
			return errx.With(ErrBadMigration, ": duplicate version %d", m.Version)
		}
		seen[m.Version] = struct{}{}
	}
	return nil
}

func migrate(db *sql.DB, module string, migrations []Migration) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`)
	if err != nil {
		return errx.With(ErrMigrate, ": create schema_migrations: %w", err)
	}

	current, err := CurrentVersion(db, module)
	if err != nil {
		return err
	}

	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	for _, m := range ordered {
		if m.Version <= current {
			continue
		}
		if err := apply(db, module, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(db *sql.DB, module string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errx.With(ErrMigrate, ": begin %s/%d: %w", module, m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return errx.With(ErrMigrate, ": %s/%d %s: %w", module, m.Version, m.Name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations(module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
		module, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errx.With(ErrMigrate, ": record %s/%d: %w", module, m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return errx.With(ErrMigrate, ": commit %s/%d: %w", module, m.Version, err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version of module,
// or 0 when none has been applied.
func CurrentVersion(db *sql.DB, module string) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations WHERE module = ?`, module).Scan(&version)
	if err != nil {
		return 0, errx.With(ErrMigrate, ": read version of %s: %w", module, err)
	}
	return int(version.Int64), nil
}
