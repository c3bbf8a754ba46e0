package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
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

// IsConflictErr reports errors caused by competing transactions: lock
// timeouts, deadlocks, serialization failures and SQLite busy/locked states.
// The whole unit of work may be retried after one of these.
func IsConflictErr(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var conflictMarkers = []string{
	// PostgreSQL 40001 / 40P01 / 55P03
	"could not serialize access",
	"deadlock detected",
	"could not obtain lock",
	"lock timeout",
	// MySQL 1205 / 1213
	"error 1205",
	"error 1213",
	// SQLite
	"database is locked",
	"database table is locked",
	"sqlite_busy",
}
