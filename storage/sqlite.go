package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"threatgate/util"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// openSQLite opens the database at dbPath with a single connection, which
// also keeps an in-memory database alive for the lifetime of the pool.
func openSQLite(dbPath string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configureSQLiteConnection(db, dbPath, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// configureSQLiteConnection enables WAL mode, foreign keys and a busy timeout.
func configureSQLiteConnection(db *sql.DB, dbPath string, logger *zap.SugaredLogger) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory"
	if dbPath != MemoryPath && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite database %s opened, journal mode %s", dbPath, journalMode)
	return nil
}

func validateDatabasePath(dbPath string) error {
	if dbPath == MemoryPath {
		return nil
	}
	if strings.HasPrefix(dbPath, "file:") {
		return fmt.Errorf("URI database names are not supported: %s", dbPath)
	}
	_, err := util.ValidateFilePathRelaxed(dbPath, false)
	return err
}
