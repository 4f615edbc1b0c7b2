package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultSQLitePath is used when neither DATABASE_URL nor SQLITE_PATH
// is configured.
const DefaultSQLitePath = "data/bot.db"

// Connect opens the subscriber database. With a non-empty databaseURL
// a PostgreSQL connection is used, otherwise a local SQLite file is
// created on demand. The schema is initialized on every start.
func Connect(databaseURL, sqlitePath string) (*sqlx.DB, error) {
	if databaseURL != "" {
		db, err := sqlx.Connect("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %v", err)
		}
		if err := initializeSchema(db); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	if sqlitePath == "" {
		sqlitePath = DefaultSQLitePath
	}
	if dir := filepath.Dir(sqlitePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %v", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(db *sqlx.DB) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subscribers (
			id BIGINT PRIMARY KEY,
			level TEXT NOT NULL,
			lesson_index INTEGER NOT NULL DEFAULT 0,
			manual_count_today INTEGER NOT NULL DEFAULT 0,
			start_date TEXT NOT NULL,
			last_sent_at TIMESTAMP,
			last_request_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'active',
			reactivated_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create subscribers table: %v", err)
	}

	_, err = db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS delivery_errors (
			id %s,
			subscriber_id BIGINT NOT NULL,
			level TEXT NOT NULL,
			lesson_index INTEGER NOT NULL,
			error_type TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMP
		)
	`, serial))
	if err != nil {
		return fmt.Errorf("failed to create delivery_errors table: %v", err)
	}

	return nil
}
