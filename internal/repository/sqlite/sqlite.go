// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The app treats its data service as an external collaborator, but the repo
// still needs one concrete implementation to run and test against. SQLite is
// embedded — one file, no server — and ":memory:" gives every test a fresh DB.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of the SQLite C code — no C
// compiler needed, cross-compilation just works.
//
// ONE DB, MANY TABLES:
// *DB owns the connection pool and the schema. Each table gets its own small
// store type (Snippets(), Votes(), Comments(), Profiles(), Users(),
// Sessions()) living in its own file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Importing the driver registers "sqlite" with database/sql in its init().
	// We name the import because classify needs its *Error type.
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/snippet-share/internal/apperror"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/snippets.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
//
// IN-MEMORY CAVEAT:
// Every connection to ":memory:" gets its OWN empty database. sql.DB is a pool
// and would happily open a second connection under concurrent load (the feed
// fetches three tables at once), so for ":memory:" we pin the pool to one
// connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. Unlike the pragmas
	// in dsn(), journal_mode is stored in the database file itself.
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

// dsn appends per-connection pragmas to the path.
//
// PRAGMA foreign_keys is a CONNECTION setting, not a database setting. Running
// it once with conn.Exec only configures whichever pooled connection happened
// to run it. The driver's _pragma parameter applies it to every connection the
// pool opens, which is what ON DELETE CASCADE for votes and comments relies on.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return classify("pinging database", err)
	}
	return nil
}

// migrate creates all tables. CREATE ... IF NOT EXISTS makes it safe to run on
// every start.
func (db *DB) migrate() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL DEFAULT '',
				github_id     INTEGER UNIQUE,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				refresh_token TEXT NOT NULL UNIQUE,
				expires_at    DATETIME NOT NULL,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				revoked_at    DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);`},
		{"profiles", `
			CREATE TABLE IF NOT EXISTS profiles (
				id         TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				username   TEXT NOT NULL UNIQUE,
				name       TEXT NOT NULL DEFAULT '',
				email      TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"snippets", `
			CREATE TABLE IF NOT EXISTS snippets (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				code        TEXT NOT NULL,
				language    TEXT NOT NULL,
				tags        TEXT NOT NULL DEFAULT '[]',
				username    TEXT NOT NULL,
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_snippets_created_at ON snippets(created_at);
			CREATE INDEX IF NOT EXISTS idx_snippets_username ON snippets(username);`},
		{"snippet_votes", `
			CREATE TABLE IF NOT EXISTS snippet_votes (
				snippet_id TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
				username   TEXT NOT NULL,
				is_upvote  INTEGER NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (snippet_id, username)
			);`},
		{"snippet_comments", `
			CREATE TABLE IF NOT EXISTS snippet_comments (
				id         TEXT PRIMARY KEY,
				snippet_id TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
				username   TEXT NOT NULL,
				content    TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_snippet_comments_snippet_id ON snippet_comments(snippet_id);`},
	}

	for _, s := range stmts {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", s.name, err)
		}
	}
	return nil
}

// classify turns a driver or context error into an apperror kind.
//
// This is the ONLY place that looks at SQLite result codes. Everything above
// the repository switches on apperror kinds:
//
//	deadline exceeded        → ErrTimeout
//	SQLITE_BUSY / LOCKED     → ErrConnection (transient, retried on reads)
//	constraint violations    → ErrConflict
//	READONLY / PERM / AUTH   → ErrPermission
//
// Anything else is wrapped plainly and ends up as a 500.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout(op, err)
	}

	var sqlErr *driver.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
			return apperror.Connection(op, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: op + ": already exists",
				Cause:   err,
			}
		case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
			return apperror.Permission(op, err)
		}
	}

	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// rowsAffected converts "zero rows changed" into a NotFound error.
func rowsAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
