package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// GORM wraps error di dalam gorm.Err* → unwrap dulu
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if pgCode(err) == pgUniqueViolation {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockContention reports row locks that could not be acquired before the
// caller's deadline. NOWAIT and lock_timeout surface as 55P03, bounded
// claim contexts surface as context deadline errors.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgCode(err) == pgLockNotAvailable {
		return true
	}
	return strings.Contains(err.Error(), "could not obtain lock")
}

// IsSerializationFailure reports aborted transactions that are safe to retry
// (PostgreSQL 40001, SQLite busy).
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if pgCode(err) == pgSerializationFailure {
		return true
	}
	if strings.Contains(err.Error(), "could not serialize access") {
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}
