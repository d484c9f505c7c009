// Package migration applies numbered SQL files (NNN_name.sql) to a database
// and tracks the applied version in a one-row schema_version table.
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/migrations"
)

// Dialect selects the bind-parameter syntax used for schema_version writes
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

var (
	ErrSchemaTooNew = errors.New("database schema is newer than this build supports")
	ErrSchemaBehind = errors.New("database schema is behind")
)

// Set is one directory of the embedded migrations
type Set struct {
	Dir     string
	Dialect Dialect
}

var (
	KV             = Set{Dir: "kv", Dialect: DialectSQLite}
	RemoteSQLite   = Set{Dir: "remote/sqlite", Dialect: DialectSQLite}
	RemotePostgres = Set{Dir: "remote/postgres", Dialect: DialectPostgres}
)

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Report summarizes one Up call
type Report struct {
	From, To int
	Applied  []Migration
	Took     time.Duration
}

type Runner struct {
	db      *sql.DB
	fs      fs.FS
	dialect Dialect
	label   string
}

func NewRunner(db *sql.DB, migrationFS fs.FS, dialect Dialect) *Runner {
	return &Runner{db: db, fs: migrationFS, dialect: dialect}
}

// Apply brings db up to the newest migration of the embedded set
func Apply(ctx context.Context, db *sql.DB, set Set) (Report, error) {
	sub, err := fs.Sub(migrations.FS, set.Dir)
	if err != nil {
		return Report{}, fmt.Errorf("failed to access %s migrations: %w", set.Dir, err)
	}
	r := NewRunner(db, sub, set.Dialect)
	r.label = set.Dir
	return r.Up(ctx)
}

// parseFilename turns "002_completion_index.sql" into (2, "completion_index")
func parseFilename(name string) (int, string, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok || rest == "" {
		return 0, "", fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in filename %s: %w", name, err)
	}
	if version < 1 {
		return 0, "", fmt.Errorf("invalid version number in filename %s: version must be at least 1", name)
	}
	return version, rest, nil
}

// Load reads every .sql file in version order
func (r *Runner) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(r.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, err := parseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(r.fs, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

// Latest is the highest version on disk, 0 when there are no files
func (r *Runner) Latest() (int, error) {
	all, err := r.Load()
	if err != nil || len(all) == 0 {
		return 0, err
	}
	return all[len(all)-1].Version, nil
}

// Current is the applied version, 0 for a fresh database
func (r *Runner) Current(ctx context.Context) (int, error) {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return 0, fmt.Errorf("failed to ensure schema_version table: %w", err)
	}

	var version int
	err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Up applies every migration newer than Current, each in its own transaction
// together with the version bump. On failure the report holds what did apply.
func (r *Runner) Up(ctx context.Context) (Report, error) {
	start := time.Now()

	current, err := r.Current(ctx)
	if err != nil {
		return Report{}, err
	}
	all, err := r.Load()
	if err != nil {
		return Report{}, err
	}

	rep := Report{From: current, To: current}
	if len(all) == 0 {
		return rep, nil
	}
	if latest := all[len(all)-1].Version; current > latest {
		return rep, fmt.Errorf("%w (database %d, supported %d): please upgrade habitgarden", ErrSchemaTooNew, current, latest)
	}

	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			rep.Took = time.Since(start)
			return rep, err
		}
		rep.Applied = append(rep.Applied, m)
		rep.To = m.Version
		logger.Debug("Applied migration", "set", r.label, "version", m.Version, "name", m.Name)
	}

	rep.Took = time.Since(start)
	if len(rep.Applied) > 0 {
		logger.Info("Database schema migrated", "set", r.label, "from", rep.From, "to", rep.To, "took", rep.Took)
	}
	return rep, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	insert := "INSERT INTO schema_version (version) VALUES (?)"
	if r.dialect == DialectPostgres {
		insert = "INSERT INTO schema_version (version) VALUES ($1)"
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("failed to clear version in migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, insert, m.Version); err != nil {
		return fmt.Errorf("failed to set version in migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

// Check reports whether the database is exactly at Latest
func (r *Runner) Check(ctx context.Context) error {
	current, err := r.Current(ctx)
	if err != nil {
		return err
	}
	latest, err := r.Latest()
	if err != nil {
		return err
	}
	switch {
	case current > latest:
		return fmt.Errorf("%w (database %d, supported %d)", ErrSchemaTooNew, current, latest)
	case current < latest:
		return fmt.Errorf("%w (database %d, latest %d)", ErrSchemaBehind, current, latest)
	}
	return nil
}
