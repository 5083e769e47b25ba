package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// wrapRelationalErr normalizes gorm/postgres failures (duplicate unique
// index violations in particular) onto the platform's sentinel error set so
// callers above this package never import gorm directly.
func wrapRelationalErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fabricerrors.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", fabricerrors.ErrDuplicateContent, err)
	}
	return fmt.Errorf("%w: %v", fabricerrors.ErrRelational, err)
}

// isUniqueViolation detects Postgres SQLSTATE 23505 without importing the
// pgconn driver type directly — gorm wraps it but the error string carries
// the SQLSTATE code reliably across driver versions.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "violates unique constraint")
}
