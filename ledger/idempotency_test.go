package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/store/memory"
)

// =============================================================================
// HASH CONTRACT
// =============================================================================

func TestRequestHash_StableAcrossFormatting(t *testing.T) {
	// 100 and 100.00 normalize to the same canonical string, so clients
	// with differing decimal formatting still collide on a true replay.
	a := ledger.RequestHash("user_001", "GOLD_COIN", decimal.RequireFromString("100"))
	b := ledger.RequestHash("user_001", "GOLD_COIN", decimal.RequireFromString("100.00"))
	assert.Equal(t, a, b)
}

func TestRequestHash_DiffersPerField(t *testing.T) {
	base := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))

	assert.NotEqual(t, base, ledger.RequestHash("user_002", "GOLD_COIN", decimal.NewFromInt(100)))
	assert.NotEqual(t, base, ledger.RequestHash("user_001", "DIAMOND", decimal.NewFromInt(100)))
	assert.NotEqual(t, base, ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(101)))
}

// =============================================================================
// LOOKUP SEMANTICS
// =============================================================================

func recordThrough(t *testing.T, store *memory.Memory, reg *ledger.Registry, key, hash string, response []byte, now time.Time) {
	t.Helper()
	err := store.RunSerializable(context.Background(), func(tx ledger.Tx) error {
		return reg.Record(context.Background(), tx, key, hash, response, now)
	})
	require.NoError(t, err)
}

func TestRegistry_Lookup_AbsentKeyIsNil(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())

	got, err := reg.Lookup(context.Background(), "missing", "any-hash")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistry_Lookup_ReplaysStoredResponse(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	recordThrough(t, store, reg, "k1", hash, []byte(`{"transactionId":"abc"}`), time.Now().UTC())

	got, err := reg.Lookup(context.Background(), "k1", hash)

	require.NoError(t, err)
	assert.JSONEq(t, `{"transactionId":"abc"}`, string(got))
}

func TestRegistry_Lookup_HashMismatchIsConflict(t *testing.T) {
	// GIVEN: A completed record under k1 for a 100 GOLD_COIN request
	// WHEN: k1 is replayed with a 200 GOLD_COIN payload
	// THEN: ErrConflict; the stored response is not returned

	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash100 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	hash200 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(200))
	recordThrough(t, store, reg, "k1", hash100, []byte(`{}`), time.Now().UTC())

	got, err := reg.Lookup(context.Background(), "k1", hash200)

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Nil(t, got)
}

func TestRegistry_Lookup_ExpiredRecordReadsAsAbsent(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	recordThrough(t, store, reg, "k1", hash, []byte(`{}`), time.Now().UTC())
	store.ExpireIdempotency("k1")

	got, err := reg.Lookup(context.Background(), "k1", hash)

	require.NoError(t, err)
	assert.Nil(t, got, "expired records must read as absent")
}

func TestRegistry_Lookup_ExpiredMismatchIsStillAbsent(t *testing.T) {
	// Expiry is checked before the hash: a dead record cannot conflict.
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash100 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	hash200 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(200))
	recordThrough(t, store, reg, "k1", hash100, []byte(`{}`), time.Now().UTC())
	store.ExpireIdempotency("k1")

	got, err := reg.Lookup(context.Background(), "k1", hash200)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistry_Committed_IgnoresExpiry(t *testing.T) {
	// The header's unique key outlives the record's TTL; the collision path
	// must still see the committed response after expiry.
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	recordThrough(t, store, reg, "k1", hash, []byte(`{"transactionId":"abc"}`), time.Now().UTC())
	store.ExpireIdempotency("k1")

	got, err := reg.Committed(context.Background(), "k1", hash)

	require.NoError(t, err)
	assert.JSONEq(t, `{"transactionId":"abc"}`, string(got))
}

func TestRegistry_Committed_HashMismatchIsConflict(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	hash100 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(100))
	hash200 := ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(200))
	recordThrough(t, store, reg, "k1", hash100, []byte(`{}`), time.Now().UTC())
	store.ExpireIdempotency("k1")

	got, err := reg.Committed(context.Background(), "k1", hash200)

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Nil(t, got)
}

func TestRegistry_Committed_AbsentKeyIsNil(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())

	got, err := reg.Committed(context.Background(), "missing", "any-hash")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistry_Record_TTLSetsExpiry(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	reg := ledger.NewRegistry(store, time.Hour, func() time.Time { return now }, zap.NewNop())
	recordThrough(t, store, reg, "k1", "h", []byte(`{}`), now)

	rec, err := store.IdempotencyLookup(context.Background(), "k1")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)
}

func TestRegistry_Record_DuplicateKeyIsUniqueViolation(t *testing.T) {
	store := memory.New()
	reg := ledger.NewRegistry(store, 0, nil, zap.NewNop())
	now := time.Now().UTC()
	recordThrough(t, store, reg, "k1", "h", []byte(`{}`), now)

	err := store.RunSerializable(context.Background(), func(tx ledger.Tx) error {
		return reg.Record(context.Background(), tx, "k1", "h", []byte(`{}`), now)
	})

	assert.ErrorIs(t, err, ledger.ErrUniqueViolation)
}
