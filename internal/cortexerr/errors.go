// Package cortexerr defines the error-kind taxonomy shared across CORTEX's
// public-facing operations: every exported method on the engine returns an
// error that satisfies errors.Is against exactly one of these sentinels, so
// callers can branch on failure kind without string matching.
package cortexerr

import "errors"

var (
	// ErrValidation marks caller-supplied input that failed a precondition
	// (empty project, too-short content, unknown fact_type, malformed path).
	ErrValidation = errors.New("validation error")

	// ErrAuth marks a missing, invalid, or revoked credential.
	ErrAuth = errors.New("authentication error")

	// ErrPermissionDenied marks an authenticated caller lacking the
	// permission (or consensus standing) an operation requires.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorage marks a substrate I/O failure: lock timeout, constraint
	// violation that isn't a dedup no-op, disk error.
	ErrStorage = errors.New("storage error")

	// ErrIntegrityViolation marks a detected ledger chain break, Merkle
	// mismatch, or corrupt encryption envelope.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrCompactionConflict marks contradictory strategies or inconsistent
	// state discovered mid-compaction-run.
	ErrCompactionConflict = errors.New("compaction conflict")

	// ErrRateLimited marks a caller that has exhausted its rate budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient marks a background failure that is expected to succeed
	// on retry and must never propagate to a user-facing call.
	ErrTransient = errors.New("transient error")
)
