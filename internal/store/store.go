// Package store provides encrypted persistent storage for the escrow
// coordinator, backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
)

// Store provides persistent storage for escrows, multisig snapshots,
// wallet-RPC configs, and the recent-events view. The schema also creates a
// challenges table, which no Store method reads or writes.
type Store struct {
	db     *sql.DB
	dbPath string
	key    cryptoutil.MasterKey
	mu     sync.RWMutex
}

// Config holds store configuration.
type Config struct {
	DataDir string
	DBPath  string // overrides DataDir-derived path when set (e.g. DATABASE_URL)
}

// New opens (creating if necessary) the escrow database under the process
// master key, which seals/unseals sensitive columns at the field level.
func New(cfg *Config, key cryptoutil.MasterKey) (*Store, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dataDir := expandPath(cfg.DataDir)
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, "escrow.db")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	// SQLite only supports one writer; WAL still permits concurrent readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath, key: key}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS escrows (
		id TEXT PRIMARY KEY,
		order_ref TEXT NOT NULL,
		buyer_user_id TEXT NOT NULL,
		vendor_user_id TEXT NOT NULL,
		arbiter_user_id TEXT NOT NULL,
		amount_atomic INTEGER NOT NULL,
		status TEXT NOT NULL,
		multisig_phase TEXT NOT NULL DEFAULT 'preparing',
		destination_address TEXT,
		confirmed_txid TEXT,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		expires_at INTEGER,
		buyer_sealed_material TEXT,
		vendor_sealed_material TEXT,
		arbiter_sealed_material TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status);
	CREATE INDEX IF NOT EXISTS idx_escrows_expires_at ON escrows(expires_at);
	CREATE INDEX IF NOT EXISTS idx_escrows_last_activity ON escrows(last_activity_at);

	CREATE TABLE IF NOT EXISTS multisig_states (
		escrow_id TEXT PRIMARY KEY,
		phase_kind TEXT NOT NULL,
		phase_round INTEGER NOT NULL DEFAULT 0,
		completed_roles TEXT NOT NULL DEFAULT '[]',
		role_addresses TEXT NOT NULL DEFAULT '{}',
		ready_address TEXT,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (escrow_id) REFERENCES escrows(id)
	);

	CREATE TABLE IF NOT EXISTS wallet_rpc_configs (
		escrow_id TEXT NOT NULL,
		role TEXT NOT NULL,
		sealed_endpoint_url TEXT NOT NULL,
		sealed_credentials TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (escrow_id, role),
		FOREIGN KEY (escrow_id) REFERENCES escrows(id)
	);

	CREATE TABLE IF NOT EXISTS challenges (
		user_id TEXT NOT NULL,
		escrow_id TEXT NOT NULL,
		nonce TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, escrow_id)
	);

	CREATE INDEX IF NOT EXISTS idx_challenges_created_at ON challenges(created_at);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		escrow_id TEXT,
		timestamp_ms INTEGER NOT NULL,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ms);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies idempotent ALTER TABLE statements for schema
// additions made after the initial release. Errors are ignored since
// the column may already exist.
func (s *Store) runMigrations() error {
	migrations := []string{
		"ALTER TABLE escrows ADD COLUMN cancel_reason TEXT",
	}
	for _, m := range migrations {
		_, _ = s.db.Exec(m)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
