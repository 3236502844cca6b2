// Package sqlite implements the repository interfaces on top of
// modernc.org/sqlite, a pure Go SQLite driver.
//
// WHAT IS STORED HERE?
// One row per finished execution: the language, the exit code, whether the
// deadline fired, the wall-clock duration and the (already truncated) output.
// Source code is never stored. The history endpoints read these rows back;
// the executor itself never touches the database.
//
// WHY A PURE GO DRIVER?
// The server is shipped as a single static binary next to a Docker socket.
// A CGo driver would need a C toolchain at build time and a matching libc at
// run time. modernc.org/sqlite needs neither.
//
// HOW THE PIECES FIT:
//  1. New opens the pool, checks it with Ping and switches the journal to WAL.
//  2. migrate creates the schema if it is missing, so a fresh file just works.
//  3. execution.go holds the queries behind repository.ExecutionRepository.
//
// History is optional. With an empty db path the server never calls New and
// the history routes are not mounted.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql in its init function.
	// Nothing from the package is referenced directly.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
//
// sql.DB is already safe for concurrent use, so DB adds no locking of its
// own. Handlers share a single *DB for the life of the process.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/coderunner.db" → file-based database (persistent)
//   - ":memory:"           → in-memory database, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the history endpoints read while an execution is being recorded.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent,
// so it runs on every start.
//
// COLUMN NOTES:
//   - id is the row's own xid; execution_id is the executor's identifier and
//     is UNIQUE so a result can't be recorded twice.
//   - timed_out is 0 or 1. SQLite has no boolean type.
//   - duration is seconds as a REAL, matching the JSON response.
//   - the created_at index serves the newest-first listing.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id           TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL UNIQUE,
			language     TEXT NOT NULL,
			exit_code    INTEGER NOT NULL,
			timed_out    INTEGER NOT NULL DEFAULT 0,
			duration     REAL NOT NULL DEFAULT 0,
			stdout       TEXT NOT NULL DEFAULT '',
			stderr       TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating executions table: %w", err)
	}

	return nil
}
