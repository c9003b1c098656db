// Package sqlstore implements store.Backend on database/sql. The SQL is
// written once with $n placeholders; a Dialect adapts it to the driver.
package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/znz-systems/boxmeta/internal/store"
)

// Dialect carries the driver specific parts of the SQL backend.
type Dialect struct {
	Name string
	// Rebind rewrites $n placeholders for drivers that do not take them.
	Rebind func(query string) string
	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint violation.
	IsUniqueViolation func(err error) bool
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Backend = (*Store)(nil)

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.Rebind == nil {
		dialect.Rebind = func(q string) string { return q }
	}
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
