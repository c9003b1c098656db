// Package postgres opens the PostgreSQL backend.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/znz-systems/boxmeta/internal/store/sqlstore"
)

const uniqueViolation = "23505"

// Dialect adapts sqlstore to lib/pq, which takes $n placeholders as is.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	IsUniqueViolation: isUniqueViolation,
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func NewDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Retry connecting, postgres may still be starting in Docker
	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		pingErr = db.Ping()
		if pingErr == nil {
			break
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", pingErr)
		time.Sleep(2 * time.Second)
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database after 5 attempts: %w", pingErr)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	return db, nil
}

// Open connects to databaseURL and returns the SQL backend on top of it.
func Open(databaseURL string) (*sqlstore.Store, error) {
	db, err := NewDB(databaseURL)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, Dialect), nil
}
