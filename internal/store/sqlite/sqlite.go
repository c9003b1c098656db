// Package sqlite opens the embedded SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/znz-systems/boxmeta/internal/store/sqlstore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Dialect adapts sqlstore to modernc.org/sqlite. $n becomes ?n so repeated
// and out-of-order parameters keep their position.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Rebind: func(query string) string {
		return placeholder.ReplaceAllString(query, "?$1")
	},
	IsUniqueViolation: isUniqueViolation,
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// NewDB opens the database file at path, or an in-memory database for an
// empty path.
func NewDB(ctx context.Context, path string) (*sql.DB, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" || trimmed == ":memory:" || strings.Contains(trimmed, "mode=memory") {
		inMemory = true
	}
	if trimmed == "" {
		trimmed = ":memory:"
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers, which is what gives
	// conditional updates their atomicity here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return db, nil
}

func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := NewDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, Dialect), nil
}
