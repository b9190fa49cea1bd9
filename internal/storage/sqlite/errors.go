package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kbengine/kbengine/internal/kberrors"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to kberrors.NotFound for consistent error handling across
// the store.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, kberrors.NotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isBusyError recognizes the ncruces/go-sqlite3 driver's busy/locked
// error text. The driver doesn't expose a typed sentinel for this, so we
// match the substrings it and stock SQLite use, the same way the corpus
// detects constraint violations by substring (isUniqueConstraintError).
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
