/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error kinds in one place. The store adapter classifies native driver
  errors into these sentinels; the Retry Driver and the HTTP layer branch on
  them with errors.Is.

ERROR CATEGORIES:
  1. Caller errors     - validation, not found, insufficient funds, conflict
  2. Transient errors  - serialization failure, deadlock, lock not available
  3. Storage errors    - unique/check violations, unclassified internals

RETRY POLICY:
  Only the transient category is retriable, and only because NOWAIT locks
  and transaction rollback guarantee a failed attempt left no state behind.

SEE ALSO:
  - retry.go: Consumes IsRetriable
  - store/postgres: Maps SQLSTATEs onto these sentinels
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: missing identifiers,
	// non-positive amounts, unknown asset codes, oversized scale.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced account or asset is absent
	// or inactive.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when the source balance cannot cover
	// the requested amount. Never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned when an idempotency key is reused with a
	// different request payload (mismatched canonical hash).
	ErrConflict = errors.New("idempotency key reused with different payload")

	// ErrSerializationFailure maps SQLSTATE 40001. Retriable.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrDeadlockDetected maps SQLSTATE 40P01. Retriable.
	ErrDeadlockDetected = errors.New("deadlock detected")

	// ErrLockNotAvailable maps SQLSTATE 55P03 (NOWAIT lock denied). Retriable
	// because NOWAIT guarantees nothing was mutated.
	ErrLockNotAvailable = errors.New("lock not available")

	// ErrUniqueViolation maps SQLSTATE 23505. On the idempotency key this
	// means another worker completed the same movement first.
	ErrUniqueViolation = errors.New("unique violation")

	// ErrCheckViolation maps SQLSTATE 23514 (e.g. the balance >= 0 check).
	ErrCheckViolation = errors.New("check violation")

	// ErrInternal is an unclassified storage failure.
	ErrInternal = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports the shortfall of a rejected movement.
type InsufficientFundsError struct {
	AccountName string
	AssetCode   string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s has %s %s, requested %s",
		e.AccountName, e.Available, e.AssetCode, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError reports which field failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetriable reports whether the error class is proven side-effect-free and
// safe to retry.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrSerializationFailure) ||
		errors.Is(err, ErrDeadlockDetected) ||
		errors.Is(err, ErrLockNotAvailable)
}

// IsClientError reports whether the error is the caller's fault (maps to 4xx).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
