package db

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/solatis/critidx/migrations"
)

// Tables are the critidx tables the migrations create. CheckSchema requires
// every one of them.
var Tables = []string{"group_exports", "group_snapshots", "ratification_runs", "api_keys"}

var (
	// ErrChecksumMismatch indicates an applied migration whose embedded
	// file has since changed.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrUnknownMigration indicates a migration recorded in the database
	// that this binary does not embed.
	ErrUnknownMigration = errors.New("applied migration not embedded")

	// ErrPendingMigrations indicates embedded migrations not yet applied.
	ErrPendingMigrations = errors.New("pending migrations")

	// ErrMissingTable indicates a critidx table absent after migration.
	ErrMissingTable = errors.New("schema table missing")
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// dialect carries the driver-specific parts of the migration runner.
type dialect struct {
	files embed.FS
	dir   string

	// trackingDDL must match the migrations table of 001_initial_schema.sql.
	trackingDDL string
	record      string
	tableCount  string
	stamp       func(time.Time) any
}

var dialects = map[string]dialect{
	"sqlite3": {
		files: embeddedmigrations.SqliteMigrations,
		dir:   "sqlite",
		trackingDDL: `CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL,
			CHECK (applied_at LIKE '____-__-__T__:__:__Z')
		)`,
		record:     "INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)",
		tableCount: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		stamp:      func(t time.Time) any { return t.Format(time.RFC3339) },
	},
	"postgres": {
		files: embeddedmigrations.PostgresMigrations,
		dir:   "postgres",
		trackingDDL: `CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
			execution_ms INTEGER NOT NULL
		)`,
		record:     "INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES ($1, $2, $3, $4)",
		tableCount: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
		stamp:      func(t time.Time) any { return t },
	},
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

type appliedMigration struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   any    `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// schema pairs the embedded migrations of a driver with the rows of the
// tracking table.
type schema struct {
	dialect
	migrations []migration
	applied    map[string]appliedMigration
}

func loadSchema(db *sqlx.DB) (*schema, error) {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}
	if _, err := db.Exec(d.trackingDDL); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := d.load()
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}

	var rows []appliedMigration
	if err := db.Select(&rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]appliedMigration, len(rows))
	for _, r := range rows {
		applied[r.ID] = r
	}
	return &schema{dialect: d, migrations: migrations, applied: applied}, nil
}

// load reads the dialect's migration files in file name order.
func (d dialect) load() ([]migration, error) {
	entries, err := fs.ReadDir(d.files, d.dir)
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := d.files.ReadFile(path.Join(d.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{ID: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	return out, nil
}

// verify compares every applied migration with its embedded file.
func (s *schema) verify() error {
	embedded := make(map[string]string, len(s.migrations))
	for _, m := range s.migrations {
		embedded[m.ID] = m.Checksum
	}
	for id, a := range s.applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMigration, id)
		}
		if a.Checksum != want {
			return fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksumMismatch, id, want, a.Checksum)
		}
	}
	return nil
}

func (s *schema) pending() []migration {
	var out []migration
	for _, m := range s.migrations {
		if _, ok := s.applied[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// apply runs one migration and records it in a single transaction.
func (s *schema) apply(db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	// lib/pq does not run multiple statements in one Exec.
	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
	}
	if _, err := tx.Exec(s.record, m.ID, m.Checksum, s.stamp(time.Now().UTC()), time.Since(start).Milliseconds()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

// MigrateUp applies pending migrations in file name order after checking
// that the applied ones still match the embedded files.
func MigrateUp(db *sqlx.DB) error {
	s, err := loadSchema(db)
	if err != nil {
		return err
	}
	if err := s.verify(); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}
	for _, m := range s.pending() {
		if err := s.apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus returns the status of all embedded migrations.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	s, err := loadSchema(db)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(s.migrations))
	for _, m := range s.migrations {
		a, ok := s.applied[m.ID]
		if !ok {
			statuses = append(statuses, MigrationStatus{ID: m.ID, Checksum: m.Checksum})
			continue
		}
		statuses = append(statuses, MigrationStatus{
			ID:          m.ID,
			Checksum:    a.Checksum,
			Applied:     true,
			AppliedAt:   appliedAt(a.AppliedAt),
			ExecutionMs: a.ExecutionMs,
		})
	}
	return statuses, nil
}

// CheckSchema is the startup check of 'critidx serve': no drift, nothing
// pending, and every critidx table present.
func CheckSchema(db *sqlx.DB) error {
	s, err := loadSchema(db)
	if err != nil {
		return err
	}
	if err := s.verify(); err != nil {
		return err
	}
	if pending := s.pending(); len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		return fmt.Errorf("%w: %s (run 'critidx migrate')", ErrPendingMigrations, strings.Join(ids, ", "))
	}
	for _, table := range Tables {
		var n int
		if err := db.Get(&n, s.tableCount, table); err != nil {
			return fmt.Errorf("failed to look up table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrMissingTable, table)
		}
	}
	return nil
}

// appliedAt reads applied_at: RFC3339 text on SQLite, a timestamp on
// PostgreSQL.
func appliedAt(v any) *time.Time {
	var text string
	switch at := v.(type) {
	case time.Time:
		return &at
	case string:
		text = at
	case []byte:
		text = string(at)
	default:
		return nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil
	}
	return &t
}

// splitStatements drops "--" comment lines and splits the rest on
// semicolons. Migrations must not use semicolons inside string literals.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
