package storage

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// MigrationRunner applies migrations in version order and records them in
// the schema_migrations table.
type MigrationRunner struct {
	db         *sql.DB
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates a runner and ensures the bookkeeping table exists.
func NewMigrationRunner(db *sql.DB, logger *zap.SugaredLogger, migrations ...Migration) (*MigrationRunner, error) {
	runner := &MigrationRunner{db: db, logger: logger, migrations: migrations}
	if err := runner.ensureMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return runner, nil
}

func (r *MigrationRunner) ensureMigrationsTable() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// CurrentVersion returns the highest applied version, or 0.
func (r *MigrationRunner) CurrentVersion() (int, error) {
	var version sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Run applies every pending migration, each in its own transaction.
func (r *MigrationRunner) Run() error {
	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		start := time.Now()

		tx, err := r.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at, duration_ms) VALUES (?, ?, ?, ?)",
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano), time.Since(start).Milliseconds(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		r.logger.Debugf("Applied migration %d (%s)", m.Version, m.Name)
		current = m.Version
	}
	return nil
}

func execStatements(statements ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

var historyMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_runs",
		Up: execStatements(
			`CREATE TABLE runs (
				run_id TEXT PRIMARY KEY,
				model_name TEXT NOT NULL,
				model_version TEXT NOT NULL DEFAULT '',
				generated_at TEXT NOT NULL,
				threshold TEXT NOT NULL,
				passed INTEGER NOT NULL,
				total INTEGER NOT NULL,
				non_compliant INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_runs_model_generated ON runs(model_name, generated_at)`,
		),
	},
	{
		Version: 2,
		Name:    "create_run_threats",
		Up: execStatements(
			`CREATE TABLE run_threats (
				run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				threat_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				element_id TEXT NOT NULL,
				title TEXT NOT NULL,
				risk TEXT NOT NULL,
				status TEXT NOT NULL,
				non_compliant INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (run_id, position)
			)`,
		),
	},
}
