// Package sqlite implements store.Table on a SQLite database.
//
// All logical tables live in one database file and share a single SQL table
// keyed by (table name, key). Schema changes are applied from embedded
// migrations when the database is opened.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// DB is an open SQLite database holding cache tables.
type DB struct {
	sqlDB *sql.DB
}

// Open opens and migrates the database at path.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "database path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "open sqlite db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, errors.CodeStorage, "ping sqlite db")
	}

	if err := applyMigrations(sqlDB, migrationFS, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, errors.CodeStorage, "run migrations")
	}
	return &DB{sqlDB: sqlDB}, nil
}

// Close releases the database connection.
func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// Table returns the logical table name backed by d.
func (d *DB) Table(name string) *Table {
	return &Table{db: d, name: name}
}

// Tables returns the content, access and schedule tables.
func (d *DB) Tables() (content, access, schedule *Table) {
	return d.Table(store.ContentTable), d.Table(store.AccessTable), d.Table(store.ScheduleTable)
}

// Table is one logical table inside a DB.
type Table struct {
	db   *DB
	name string

	mu   sync.RWMutex
	open bool
}

var (
	_ store.Table   = (*Table)(nil)
	_ store.Sizer   = (*Table)(nil)
	_ store.Totaler = (*Table)(nil)
)

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Open verifies the database is reachable and marks the table open.
func (t *Table) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return nil
	}
	if err := t.db.sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "ping sqlite db")
	}
	t.open = true
	return nil
}

// IsOpen reports whether the table is open.
func (t *Table) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// Close marks the table closed. The database stays open.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

func (t *Table) check() error {
	if !t.IsOpen() {
		return store.ErrNotOpen
	}
	return nil
}

// Get returns the value stored under key.
func (t *Table) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var value []byte
	err := t.db.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE tbl = ? AND entry_key = ?`, t.name, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "get entry")
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put upserts value under key.
func (t *Table) Put(ctx context.Context, key string, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.db.sqlDB.ExecContext(ctx,
		`INSERT INTO entries (tbl, entry_key, value, size, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tbl, entry_key) DO UPDATE SET
		    value = excluded.value,
		    size = excluded.size,
		    updated_at = excluded.updated_at`,
		t.name, key, value, len(value), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "put entry")
	}
	return nil
}

// Delete removes key.
func (t *Table) Delete(ctx context.Context, key string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.db.sqlDB.ExecContext(ctx,
		`DELETE FROM entries WHERE tbl = ? AND entry_key = ?`, t.name, key,
	); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "delete entry")
	}
	return nil
}

// Contains reports whether key exists.
func (t *Table) Contains(ctx context.Context, key string) (bool, error) {
	_, err := t.Size(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Size returns the stored size of key's value.
func (t *Table) Size(ctx context.Context, key string) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var size int64
	err := t.db.sqlDB.QueryRowContext(ctx,
		`SELECT size FROM entries WHERE tbl = ? AND entry_key = ?`, t.name, key,
	).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeStorage, "stat entry")
	}
	return size, nil
}

// Keys lists every key in the table.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	rows, err := t.db.sqlDB.QueryContext(ctx, `SELECT entry_key FROM entries WHERE tbl = ?`, t.name)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "list entries")
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorage, "scan entry key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "iterate entries")
	}
	return keys, nil
}

// TotalSize returns the sum of value sizes in the table.
func (t *Table) TotalSize(ctx context.Context) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var total int64
	if err := t.db.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries WHERE tbl = ?`, t.name,
	).Scan(&total); err != nil {
		return 0, errors.Wrap(err, errors.CodeStorage, "sum entry sizes")
	}
	return total, nil
}

// Clear removes every key in the table.
func (t *Table) Clear(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.db.sqlDB.ExecContext(ctx, `DELETE FROM entries WHERE tbl = ?`, t.name); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "clear table")
	}
	return nil
}

// applyMigrations executes the embedded migrations under root at most once
// per file, in filename order.
func applyMigrations(sqlDB *sql.DB, migrations fs.FS, root string) error {
	entries, err := fs.ReadDir(migrations, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrations, root+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := extractUp(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUp returns the SQL in the "-- +migrate Up" section.
func extractUp(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, downMarker)
	if downIdx == -1 {
		return content[upIdx+len(upMarker):]
	}
	return content[upIdx+len(upMarker) : downIdx]
}
