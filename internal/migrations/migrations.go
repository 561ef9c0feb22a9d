package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "dbchat_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the embedded query history schema to a Postgres database.
// Each version runs in its own transaction together with its bookkeeping row.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// state is the embedded source alongside the versions recorded in the database.
type state struct {
	source  []migration
	applied []int64
}

func (s state) isApplied(version int64) bool {
	return slices.Contains(s.applied, version)
}

func (r *Runner) load(ctx context.Context, db *sql.DB, newestFirst bool) (state, error) {
	source, err := loadMigrations(r.fsys)
	if err != nil {
		return state{}, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return state{}, err
	}
	applied, err := listAppliedVersions(ctx, db, newestFirst)
	if err != nil {
		return state{}, err
	}
	return state{source: source, applied: applied}, nil
}

// Up applies pending versions oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	st, err := r.load(ctx, db, false)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range st.source {
		if st.isApplied(item.Version) {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		if err := runStep(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Pending reports the versions that Up would apply, in order.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]int64, error) {
	st, err := r.load(ctx, db, false)
	if err != nil {
		return nil, err
	}
	pending := make([]int64, 0, len(st.source))
	for _, item := range st.source {
		if !st.isApplied(item.Version) {
			pending = append(pending, item.Version)
		}
	}
	return pending, nil
}

// Down rolls back the newest applied versions. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	st, err := r.load(ctx, db, true)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, version := range st.applied[:min(steps, len(st.applied))] {
		idx := slices.IndexFunc(st.source, func(m migration) bool { return m.Version == version })
		if idx < 0 {
			return count, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := runStep(ctx, db, version, st.source[idx].DownSQL, false); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// runStep executes one script and records (up) or forgets (down) its version atomically.
func runStep(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	verb, bookkeeping := "rollback", `DELETE FROM `+migrationTable+` WHERE version = $1`
	if up {
		verb, bookkeeping = "apply", `INSERT INTO `+migrationTable+` (version) VALUES ($1)`
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %d: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record %s %d: %w", verb, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %d: %w", verb, version, err)
	}
	return nil
}

// listAppliedVersions returns recorded versions, newest first when desc is set.
func listAppliedVersions(ctx context.Context, db *sql.DB, desc bool) ([]int64, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := []int64{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// loadMigrations pairs NNNNNN_name.up.sql with its .down.sql; both halves are required.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		parts := migrationNamePattern.FindStringSubmatch(path.Base(name))
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", name, err)
		}
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version}
			byVersion[version] = item
		}
		if parts[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
