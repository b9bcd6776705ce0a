/*
idempotency.go - Idempotency Registry

PURPOSE:
  Makes every movement request safely repeatable. A request is identified by
  its client-supplied key plus a canonical SHA-256 hash of its payload.
  Lookup runs before any transaction is opened (the fast path); Record runs
  inside the same transaction as the ledger write, so a response exists in
  the log if and only if the movement committed.

HASH CONTRACT:
  SHA-256 over the JSON serialization of {userId, assetCode, amount} in that
  field order. Struct marshaling fixes the order; the amount is rendered in
  its canonical decimal string form so 100 and 100.00 with differing client
  formatting still collide only when truly equal.

KEY REUSE:
  A key replayed with a matching hash returns the stored response. A key
  replayed with a different hash is rejected with ErrConflict. Expired rows
  read as absent on the fast path - but the header's unique key column never
  expires, so a post-expiry replay collides there and is resolved through
  Committed, which ignores expiry and replays the committed outcome.

SEE ALSO:
  - writer.go: Calls Record as step 8
  - wallet/service.go: Calls Lookup on the fast path, Committed after a
    header-key collision
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultIdempotencyTTL is how long a recorded response is replayable.
const DefaultIdempotencyTTL = 24 * time.Hour

// Registry records and replays movement outcomes by idempotency key.
type Registry struct {
	store Store
	ttl   time.Duration
	clock Clock
	log   *zap.Logger
}

// NewRegistry creates a Registry. ttl <= 0 uses DefaultIdempotencyTTL.
func NewRegistry(store Store, ttl time.Duration, clock Clock, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if clock == nil {
		clock = NowUTC
	}
	return &Registry{store: store, ttl: ttl, clock: clock, log: log}
}

// Lookup returns the stored response for key, or nil when there is none
// (absent, incomplete, or expired). A stored record whose hash differs from
// requestHash is a reused key with a different payload: ErrConflict.
func (r *Registry) Lookup(ctx context.Context, key, requestHash string) ([]byte, error) {
	rec, err := r.store.IdempotencyLookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if rec == nil || rec.Status != IdempotencyStatusCompleted {
		return nil, nil
	}
	if !rec.ExpiresAt.After(r.clock()) {
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		r.log.Warn("idempotency key reused with different payload",
			zap.String("key", key))
		return nil, ErrConflict
	}
	return rec.Response, nil
}

// Committed returns the stored response for key regardless of expiry, or
// nil when no completed record exists. Callers reach here after a collision
// on the header's unique key: that constraint outlives the record's TTL, so
// the committed outcome is replayed rather than the movement applied twice.
func (r *Registry) Committed(ctx context.Context, key, requestHash string) ([]byte, error) {
	rec, err := r.store.IdempotencyLookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if rec == nil || rec.Status != IdempotencyStatusCompleted {
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		r.log.Warn("idempotency key reused with different payload",
			zap.String("key", key))
		return nil, ErrConflict
	}
	return rec.Response, nil
}

// Record persists the outcome inside tx. The key column is the primary key:
// a second insert under the same key fails with ErrUniqueViolation, which
// callers treat as a lost race.
func (r *Registry) Record(ctx context.Context, tx Tx, key, requestHash string, response []byte, now time.Time) error {
	return tx.InsertIdempotency(ctx, IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Response:    response,
		Status:      IdempotencyStatusCompleted,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	})
}

// requestShape is the canonical hash input. Field order is fixed by the
// struct; do not reorder.
type requestShape struct {
	UserID    string `json:"userId"`
	AssetCode string `json:"assetCode"`
	Amount    string `json:"amount"`
}

// RequestHash computes the canonical SHA-256 hash of a movement request.
func RequestHash(userID, assetCode string, amount decimal.Decimal) string {
	b, _ := json.Marshal(requestShape{
		UserID:    userID,
		AssetCode: assetCode,
		Amount:    amount.String(),
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
