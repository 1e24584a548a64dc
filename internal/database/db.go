// Package database wires up the embedded SQLite connections shared by the
// snapshot store and quote-sync state tables: profile-tuned PRAGMAs via
// modernc.org/sqlite (a pure-Go driver, no cgo), a transactional helper, and
// source-relative schema loading.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Profile selects the durability/throughput tradeoff for a connection.
type Profile string

const (
	// ProfileLedger favors durability: every snapshot write is an append to an
	// audit-grade record, never silently lost.
	ProfileLedger Profile = "ledger"
	// ProfileCache favors throughput for ephemeral, rebuildable data (e.g. the
	// msgpack-backed read cache's backing store, if persisted).
	ProfileCache Profile = "cache"
	// ProfileStandard is the balanced default.
	ProfileStandard Profile = "standard"
)

// Config describes one database file and how to open it.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// DB wraps *sql.DB with the profile it was opened under.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Open connects to a SQLite database file (or in-memory file: URI), applying
// profile-specific PRAGMAs and pool limits.
func Open(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
	}
	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

// connectionString builds the SQLite DSN with profile-specific PRAGMAs. A
// file: URI may already carry query parameters (mode=memory etc.), so the
// first separator depends on the path.
func connectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	s := path + sep + "_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		s += "&_pragma=synchronous(FULL)"
		s += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		s += "&_pragma=synchronous(OFF)"
		s += "&_pragma=auto_vacuum(FULL)"
		s += "&_pragma=temp_store(MEMORY)"
	default:
		s += "&_pragma=synchronous(NORMAL)"
		s += "&_pragma=auto_vacuum(INCREMENTAL)"
		s += "&_pragma=temp_store(MEMORY)"
	}

	s += "&_pragma=foreign_keys(1)"
	s += "&_pragma=wal_autocheckpoint(1000)"
	s += "&_pragma=cache_size(-64000)"
	return s
}

func configurePool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if profile == ProfileCache {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// schemaFiles maps a logical database name to its schema file, resolved
// relative to this source file rather than the process working directory.
var schemaFiles = map[string]string{
	"snapshots": "snapshots_schema.sql",
	"quotesync": "quotesync_schema.sql",
}

// Migrate executes the schema file for this database's name, if one is
// registered. Re-running is safe: "already exists" failures are swallowed.
func (db *DB) Migrate() error {
	schemaFile, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	schemasDir, err := schemasDirectory()
	if err != nil {
		return nil
	}

	content, err := os.ReadFile(filepath.Join(schemasDir, schemaFile))
	if err != nil {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction for %s: %w", db.name, err)
	}

	if _, err := tx.Exec(string(content)); err != nil {
		_ = tx.Rollback()
		msg := err.Error()
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column") {
			return nil
		}
		return fmt.Errorf("apply schema %s for %s: %w", schemaFile, db.name, err)
	}

	return tx.Commit()
}

// schemasDirectory locates internal/database/schemas relative to this file,
// so migration works regardless of the process's working directory.
func schemasDirectory() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("resolve caller for schema directory lookup")
	}
	dir := filepath.Join(filepath.Dir(currentFile), "schemas")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("schemas directory not found at %s", dir)
	}
	return dir, nil
}

func (db *DB) Close() error           { return db.conn.Close() }
func (db *DB) Conn() *sql.DB          { return db.conn }
func (db *DB) Name() string           { return db.name }
func (db *DB) Profile() Profile       { return db.profile }
func (db *DB) Path() string           { return db.path }
func (db *DB) Begin() (*sql.Tx, error) { return db.conn.Begin() }

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic (re-panicking is avoided in favor of a
// wrapped error, matching the single-writer batch-commit contract the
// Snapshot Store relies on).
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}
