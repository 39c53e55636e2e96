package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate takes a row lock on databases that support it. SQLite (used
// in tests) serializes writers anyway, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// isUniqueViolation matches unique-constraint errors from both backends so a
// lost storage-layer race can surface as a domain conflict instead of a 500.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || // postgres
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}
