/*
Package ledger provides the transactional double-entry engine for the wallet.

PURPOSE:
  This package contains the storage-agnostic core: the double-entry Writer,
  the Idempotency Registry, the Retry Driver, and the error taxonomy. It
  knows nothing about HTTP and nothing about a concrete database - it talks
  to storage through the Store/Tx interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Asset:             A virtual currency (gold coins, diamonds, ...)
  - Account:           A bucket of holdings, user wallet or system pool
  - TransactionHeader: The immutable master record of one movement
  - Entry:             One signed side (debit/credit) of a movement
  - Movement:          A fully-resolved write request for the Writer

DESIGN PRINCIPLES:
  1. Immutability: headers and entries are never modified after commit
  2. Precision: amounts are decimal.Decimal, never binary floats
  3. Keyed lookups: relationships are UUID foreign keys, not pointer graphs
  4. Auditability: every movement carries an idempotency key and metadata

SEE ALSO:
  - writer.go: The eight-step atomic append
  - store.go: Storage interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock supplies the current time. Injected so tests control timestamps
// and idempotency expiry.
type Clock func() time.Time

// NowUTC is the default clock.
func NowUTC() time.Time { return time.Now().UTC() }

// =============================================================================
// ACCOUNT & ASSET
// =============================================================================

// AccountType classifies an account. The set is closed: system accounts are
// created at bootstrap, user accounts out-of-band.
type AccountType string

const (
	AccountUser     AccountType = "USER"
	AccountTreasury AccountType = "SYSTEM_TREASURY"
	AccountRevenue  AccountType = "SYSTEM_REVENUE"
	AccountBonus    AccountType = "SYSTEM_BONUS"
	AccountReserve  AccountType = "SYSTEM_RESERVE"
)

// Asset is a virtual currency. Decimals declares the fixed-point scale of
// every amount denominated in it; only active assets move.
type Asset struct {
	ID       uuid.UUID
	Code     string
	Name     string
	Decimals int32
	Active   bool
}

// Fits reports whether amount's value is representable at the asset's scale.
// The judgment is on the value, not the client's formatting: 100.000 fits a
// 2-decimal asset, 1.001 does not.
func (a Asset) Fits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(a.Decimals))
}

// Account is a named bucket of asset holdings. UserID is set only for
// AccountUser rows.
type Account struct {
	ID       uuid.UUID
	Type     AccountType
	UserID   string
	Name     string
	Metadata map[string]any
	Active   bool
}

// =============================================================================
// TRANSACTION HEADER & LEDGER ENTRY
// =============================================================================

// TransactionType tags the business operation behind a movement.
type TransactionType string

const (
	TxTopUp    TransactionType = "TOP_UP"
	TxBonus    TransactionType = "BONUS"
	TxPurchase TransactionType = "PURCHASE"
)

// TransactionStatus is the lifecycle state of a header. The Writer only ever
// commits completed headers; pending/failed/reversed exist for the schema.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

// TransactionHeader is one accepted logical movement. Immutable after commit.
type TransactionHeader struct {
	ID             uuid.UUID
	IdempotencyKey string
	Type           TransactionType
	AssetID        uuid.UUID
	Amount         decimal.Decimal
	Description    string
	Metadata       map[string]any
	Status         TransactionStatus
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// EntryType is the side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// Entry is one signed side of a movement on a single account. Append-only.
// RunningBalance is the account's balance in this asset after the entry.
type Entry struct {
	ID             uuid.UUID
	TransactionID  uuid.UUID
	AccountID      uuid.UUID
	AssetID        uuid.UUID
	Type           EntryType
	Amount         decimal.Decimal
	RunningBalance decimal.Decimal
	Description    string
	CreatedAt      time.Time
}

// =============================================================================
// MOVEMENT - A fully-resolved write request
// =============================================================================

// Movement is what the orchestrator hands the Writer: both accounts already
// resolved, amount validated against the asset scale, idempotency key and
// request hash attached.
//
// BuildResponse is called once inside the transaction, after balances are
// known, to assemble the response body stored in the idempotency log and
// returned to the caller.
type Movement struct {
	SourceID       uuid.UUID
	DestinationID  uuid.UUID
	Asset          Asset
	Amount         decimal.Decimal
	Type           TransactionType
	Description    string
	Metadata       map[string]any
	IdempotencyKey string
	RequestHash    string
	ActorID        string
	BuildResponse  func(Receipt) ([]byte, error)
}

// Receipt is what a committed append yields.
type Receipt struct {
	TransactionID      uuid.UUID
	SourceBalance      decimal.Decimal
	DestinationBalance decimal.Decimal
	CompletedAt        time.Time
}

// =============================================================================
// IDEMPOTENCY & AUDIT RECORDS
// =============================================================================

// IdempotencyStatusCompleted is the only status the engine writes; the column
// exists so housekeeping can mark rows without deleting them.
const IdempotencyStatusCompleted = "completed"

// IdempotencyRecord stores the outcome of an accepted request under its
// client-supplied key.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Response    []byte
	Status      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AuditRecord describes one engine action for the audit log.
type AuditRecord struct {
	ID        uuid.UUID
	Action    string
	ActorID   string
	Payload   []byte
	CreatedAt time.Time
}

// =============================================================================
// READ VIEWS
// =============================================================================

// BalanceView is a cached balance joined with its asset.
type BalanceView struct {
	AssetCode string
	AssetName string
	Balance   decimal.Decimal
}

// HistoryEntry is a ledger entry joined with its parent header, as returned
// by the history reader.
type HistoryEntry struct {
	EntryID        uuid.UUID
	TransactionID  uuid.UUID
	Type           TransactionType
	Status         TransactionStatus
	AssetCode      string
	EntryType      EntryType
	Amount         decimal.Decimal
	RunningBalance decimal.Decimal
	Description    string
	Metadata       map[string]any
	CreatedAt      time.Time
}
