package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the session store.
type DB struct {
	*sql.DB
	path string
	now  func() time.Time

	// failAfter aborts ReplaceAll after that many cookie inserts. Zero disables.
	failAfter int
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the connection for readiness probes.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            phone TEXT PRIMARY KEY,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		// expire_at is unix seconds; NULL marks a session cookie.
		`CREATE TABLE IF NOT EXISTS cookies (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            phone TEXT NOT NULL,
            name TEXT NOT NULL,
            value TEXT NOT NULL,
            expire_at INTEGER,
            created_at DATETIME NOT NULL,
            UNIQUE (phone, name),
            FOREIGN KEY (phone) REFERENCES accounts(phone) ON DELETE CASCADE
        )`,

		`CREATE TABLE IF NOT EXISTS auth_events (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            phone TEXT,
            attempt_id TEXT,
            outcome TEXT,
            message TEXT,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_cookies_expire ON cookies(expire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_events_created ON auth_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_events_phone ON auth_events(phone)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
