/*
Package wallet implements the business operations of the multi-currency
wallet on top of the ledger engine.

PURPOSE:
  The three movement operations (top-up, bonus, purchase) are thin
  parameterizations of ledger.Writer: each resolves the correct system
  counterparty, builds the Movement, and runs it under the Retry Driver with
  the idempotency fast path in front. Balance and history reads are plain
  cached lookups that never touch the locking protocol.

OPERATION TABLE:
  top-up:    SYSTEM_TREASURY -> user wallet   (treasury must cover amount)
  bonus:     SYSTEM_BONUS    -> user wallet   (bonus pool must cover amount)
  purchase:  user wallet     -> SYSTEM_REVENUE (user must cover amount)

SEE ALSO:
  - service.go: Orchestration and retry wiring
  - readers.go: Balance and history reads
*/
package wallet

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/wallet-engine/ledger"
)

// =============================================================================
// REQUESTS & RESULTS
// =============================================================================

// MovementRequest is the caller-facing input of all three operations.
type MovementRequest struct {
	UserID         string
	AssetCode      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]any
}

// MovementResult is the stable response of a movement. It is also the body
// stored in the idempotency log, so replays return it byte-identically.
type MovementResult struct {
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	AssetCode     string          `json:"assetCode"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	Reason        string          `json:"reason,omitempty"`
	Item          string          `json:"item,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// Validate rejects malformed input before any resolution work.
func (r MovementRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return &ledger.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.AssetCode) == "" {
		return &ledger.ValidationError{Field: "assetCode", Reason: "must not be empty"}
	}
	if !r.Amount.IsPositive() {
		return &ledger.ValidationError{Field: "amount", Reason: "must be strictly positive"}
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return &ledger.ValidationError{Field: "idempotencyKey", Reason: "must not be empty"}
	}
	return nil
}

// metaString pulls an optional string field out of request metadata.
func metaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}
