package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSchemaUnavailable wraps a failed migration. The store is unusable; the
// caller must surface this and stop rather than operate on a half-migrated
// schema. The failed step rolled back, so the prior version is intact and
// the upgrade retries on next open.
var ErrSchemaUnavailable = errors.New("database schema unavailable")

// ErrNotFound is returned for lookups of missing rows.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and runs any pending
// schema upgrades in version order.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return s, nil
}

// OpenMemory creates an in-memory store for testing.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migration is one schema upgrade step. Each step runs inside a single
// transaction together with its user_version bump: a crash mid-upgrade
// leaves the prior version intact.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, migrateV1},
	{2, migrateV2},
	{3, migrateV3},
	{4, migrateV4},
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		// PRAGMA user_version participates in the surrounding transaction.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump user_version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
		version = m.version
	}
	return nil
}

// migrateV1 creates the core entity tables and the device-state singleton.
func migrateV1(tx *sql.Tx) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS buckets (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		icon        TEXT NOT NULL DEFAULT '',
		color       TEXT NOT NULL DEFAULT '#6C63FF',
		position    INTEGER NOT NULL DEFAULT 0,
		is_default  INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_owner ON buckets(owner_id, position);

	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		bucket_id       TEXT NOT NULL REFERENCES buckets(id),
		section         TEXT NOT NULL DEFAULT 'today',
		status          TEXT NOT NULL DEFAULT 'open',
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL DEFAULT 'manual',
		source_id       TEXT,
		connection_id   TEXT,
		source_metadata TEXT NOT NULL DEFAULT '{}',
		url             TEXT NOT NULL DEFAULT '',
		position        INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_bucket ON tasks(bucket_id, section, position);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner  ON tasks(owner_id, status);

	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		task_id     TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		ended_at    TEXT,
		is_active   INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_owner_active ON sessions(owner_id, is_active, started_at);

	CREATE TABLE IF NOT EXISTS time_entries (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL REFERENCES sessions(id),
		task_id          TEXT NOT NULL,
		owner_id         TEXT NOT NULL,
		device_id        TEXT NOT NULL,
		started_at       TEXT NOT NULL,
		ended_at         TEXT,
		duration_seconds INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_entries_session ON time_entries(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_entries_task    ON time_entries(task_id, started_at);

	CREATE TABLE IF NOT EXISTS app_state (
		key                  TEXT PRIMARY KEY CHECK (key = 'state'),
		device_id            TEXT NOT NULL,
		active_session_id    TEXT,
		active_time_entry_id TEXT,
		active_task_id       TEXT,
		timer_started_at     TEXT
	);
	`
	_, err := tx.Exec(ddl)
	return err
}

// migrateV2 adds integration connections and routing rules.
func migrateV2(tx *sql.Tx) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS connections (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		label       TEXT NOT NULL DEFAULT '',
		credential  TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT '{}',
		is_active   INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS import_rules (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		integration_type TEXT NOT NULL,
		source_filter    TEXT NOT NULL DEFAULT '{}',
		target_bucket_id TEXT NOT NULL,
		target_section   TEXT NOT NULL DEFAULT 'today',
		is_active        INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_owner_type ON import_rules(owner_id, integration_type, created_at);
	`
	_, err := tx.Exec(ddl)
	return err
}

// migrateV3 adds the sync outbox and the import dedup index.
func migrateV3(tx *sql.Tx) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS outbox (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		tbl           TEXT NOT NULL,
		entity_id     TEXT NOT NULL,
		op            TEXT NOT NULL,
		payload       TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		next_retry_at TEXT,
		last_error    TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_retry ON outbox(next_retry_at, id);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_source_dedup
		ON tasks(owner_id, source_id)
		WHERE source != 'manual' AND source_id IS NOT NULL;
	`
	_, err := tx.Exec(ddl)
	return err
}

// migrateV4 moves provider descriptions into source_description and
// normalizes legacy empty-string foreign keys to NULL. Both updates are
// idempotent; rerunning after a crash is safe.
func migrateV4(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE tasks ADD COLUMN source_description TEXT NOT NULL DEFAULT ''`,
		`UPDATE tasks SET source_description = description, description = ''
		 WHERE source != 'manual' AND source_description = '' AND description != ''`,
		`UPDATE tasks SET source_id = NULL WHERE source_id = ''`,
		`UPDATE tasks SET connection_id = NULL WHERE connection_id = ''`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- shared helpers ---

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// withTx runs fn inside a transaction, rolling back on error. Entity writes
// and their outbox records go through here so both commit atomically.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
