/*
store.go - Storage interfaces for the ledger engine

PURPOSE:
  Defines the contract between the engine and the database. Two interfaces:
  Store for pool-scoped reads and transaction management, Tx for the writes
  the Writer performs inside one serializable transaction.

IMPLEMENTATIONS:
  - store/postgres: Production pgx/v5 adapter
  - store/memory:   In-memory fake for engine and service tests

LOCKING CONTRACT:
  Tx.LockAccounts takes row locks with NOWAIT semantics in the order the ids
  are passed. Callers MUST pass ids in ascending order (the Writer sorts) so
  concurrent movements over the same pair cannot circular-wait. A contended
  lock surfaces as ErrLockNotAvailable with nothing mutated.

ERROR CONTRACT:
  Implementations classify their native errors onto the sentinels in
  errors.go: a duplicate idempotency key insert MUST surface as
  ErrUniqueViolation, a missing account/asset as ErrNotFound, a negative
  balance write as ErrCheckViolation.

SEE ALSO:
  - writer.go: Only consumer of Tx
  - errors.go: Sentinels implementations must map onto
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TX - Per-transaction view used by the Writer
// =============================================================================

// Tx is the write surface of one open serializable transaction.
type Tx interface {
	// LockAccounts acquires NOWAIT row locks on the given accounts, in the
	// given order. Returns ErrLockNotAvailable when contended and
	// ErrNotFound when an account row is missing.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) error

	// CachedBalance reads the balance cache for (account, asset).
	// A missing row reads as zero.
	CachedBalance(ctx context.Context, accountID, assetID uuid.UUID) (decimal.Decimal, error)

	// InsertTransaction appends a transaction header. A duplicate
	// idempotency key surfaces as ErrUniqueViolation.
	InsertTransaction(ctx context.Context, header TransactionHeader) error

	// InsertEntry appends one ledger entry.
	InsertEntry(ctx context.Context, entry Entry) error

	// UpsertBalance writes the balance cache row for (account, asset),
	// stamping the last transaction id. A negative balance surfaces as
	// ErrCheckViolation.
	UpsertBalance(ctx context.Context, accountID, assetID uuid.UUID, balance decimal.Decimal, lastTransactionID uuid.UUID, at time.Time) error

	// InsertAudit appends an audit-log record.
	InsertAudit(ctx context.Context, rec AuditRecord) error

	// InsertIdempotency appends an idempotency record. A duplicate key
	// surfaces as ErrUniqueViolation.
	InsertIdempotency(ctx context.Context, rec IdempotencyRecord) error
}

// =============================================================================
// STORE - Pool-scoped reads and transaction management
// =============================================================================

// Store is the pool-scoped surface: resolution lookups, the read-only
// auxiliaries, the idempotency fast path, and the transaction runner.
type Store interface {
	// AssetByCode resolves an asset. Inactive or absent -> ErrNotFound.
	AssetByCode(ctx context.Context, code string) (Asset, error)

	// UserAccount resolves the USER account for an external user id.
	// Inactive or absent -> ErrNotFound.
	UserAccount(ctx context.Context, userID string) (Account, error)

	// SystemAccount resolves the singleton system account of the given type.
	SystemAccount(ctx context.Context, accountType AccountType) (Account, error)

	// IdempotencyLookup reads a record by key, or nil when absent.
	// Expiry and status filtering is the Registry's concern.
	IdempotencyLookup(ctx context.Context, key string) (*IdempotencyRecord, error)

	// UserBalance returns the cached balance of the user in one asset.
	// A missing cache row returns balance zero; an unknown asset code is
	// ErrNotFound.
	UserBalance(ctx context.Context, userID, assetCode string) (BalanceView, error)

	// UserBalances returns one row per active asset, zero-filled where the
	// user has no cache row.
	UserBalances(ctx context.Context, userID string) ([]BalanceView, error)

	// UserHistory returns ledger entries on the user's account joined with
	// their headers, ordered by header creation time descending.
	UserHistory(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error)

	// RunSerializable executes fn inside a transaction at serializable
	// isolation. fn returning nil commits; any other exit, including
	// cancellation, rolls back.
	RunSerializable(ctx context.Context, fn func(Tx) error) error
}
