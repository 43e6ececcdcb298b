package cortexdb

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors shared by every package that touches the database through
// cortexdb's connections.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrTenantMismatch = errors.New("tenant mismatch")
)

// WrapDBError annotates a driver error with operation context, normalizing
// sql.ErrNoRows to ErrNotFound so callers can errors.Is against one sentinel
// regardless of which query surfaced the miss.
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
