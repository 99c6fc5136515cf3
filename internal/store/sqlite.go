package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the global database connection
var DB *sql.DB

// InitDB initializes the SQLite database connection and creates tables
func InitDB(dbPath string) error {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	var err error
	DB, err = sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Create tables
	if err := createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// CloseDB closes the database connection
func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

func createTables() error {
	// Terminal execution records survive in-memory eviction here.
	_, err := DB.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			sandbox_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			context_id TEXT DEFAULT '',
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER,
			result_json TEXT DEFAULT '',
			error_json TEXT DEFAULT '',
			log_tail TEXT DEFAULT '',
			execution_count INTEGER DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_executions_kind ON executions(kind)",
		"CREATE INDEX IF NOT EXISTS idx_executions_context_id ON executions(context_id)",
		"CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at DESC)",
	}

	for _, idx := range indexes {
		if _, err := DB.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
