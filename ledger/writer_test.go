package ledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type writerFixture struct {
	store    *memory.Memory
	writer   *ledger.Writer
	registry *ledger.Registry
	asset    ledger.Asset
	treasury ledger.Account
	user     ledger.Account
}

func newWriterFixture(t *testing.T) *writerFixture {
	t.Helper()
	store := memory.New()
	log := zap.NewNop()
	registry := ledger.NewRegistry(store, 0, nil, log)

	f := &writerFixture{
		store:    store,
		writer:   ledger.NewWriter(registry, nil, log),
		registry: registry,
		asset:    store.SeedAsset("GOLD_COIN", "Gold Coin", 2),
		treasury: store.SeedSystemAccount(ledger.AccountTreasury, "System Treasury"),
		user:     store.SeedUserAccount("user_001", "Wallet user_001"),
	}
	store.SetBalance(f.treasury.ID, f.asset.ID, decimal.NewFromInt(10_000_000))
	return f
}

func (f *writerFixture) movement(amount int64, key string) ledger.Movement {
	return ledger.Movement{
		SourceID:       f.treasury.ID,
		DestinationID:  f.user.ID,
		Asset:          f.asset,
		Amount:         decimal.NewFromInt(amount),
		Type:           ledger.TxTopUp,
		Description:    "test top-up",
		IdempotencyKey: key,
		RequestHash:    ledger.RequestHash("user_001", "GOLD_COIN", decimal.NewFromInt(amount)),
		BuildResponse: func(rc ledger.Receipt) ([]byte, error) {
			return json.Marshal(map[string]string{"transactionId": rc.TransactionID.String()})
		},
	}
}

func (f *writerFixture) append(t *testing.T, mv ledger.Movement) ledger.Receipt {
	t.Helper()
	var receipt ledger.Receipt
	err := f.store.RunSerializable(context.Background(), func(tx ledger.Tx) error {
		var err error
		receipt, err = f.writer.Append(context.Background(), tx, mv)
		return err
	})
	require.NoError(t, err)
	return receipt
}

func (f *writerFixture) appendErr(t *testing.T, mv ledger.Movement) error {
	t.Helper()
	return f.store.RunSerializable(context.Background(), func(tx ledger.Tx) error {
		_, err := f.writer.Append(context.Background(), tx, mv)
		return err
	})
}

// =============================================================================
// DOUBLE-ENTRY INVARIANTS
// =============================================================================

func TestWriter_Append_ExactlyOneDebitOneCredit(t *testing.T) {
	f := newWriterFixture(t)

	receipt := f.append(t, f.movement(100, "k1"))

	entries := f.store.EntriesByTransaction(receipt.TransactionID)
	require.Len(t, entries, 2)

	var debit, credit *ledger.Entry
	for i := range entries {
		switch entries[i].Type {
		case ledger.EntryDebit:
			debit = &entries[i]
		case ledger.EntryCredit:
			credit = &entries[i]
		}
	}
	require.NotNil(t, debit, "one debit entry")
	require.NotNil(t, credit, "one credit entry")

	// Equal magnitude, same asset: the debit/credit sum over the
	// transaction is zero.
	assert.True(t, debit.Amount.Equal(credit.Amount))
	assert.Equal(t, debit.AssetID, credit.AssetID)
	assert.Equal(t, f.treasury.ID, debit.AccountID)
	assert.Equal(t, f.user.ID, credit.AccountID)
}

func TestWriter_Append_RunningBalancesMatchCache(t *testing.T) {
	f := newWriterFixture(t)

	receipt := f.append(t, f.movement(100, "k1"))

	entries := f.store.EntriesByTransaction(receipt.TransactionID)
	for _, e := range entries {
		cached := f.store.BalanceOf(e.AccountID, e.AssetID)
		assert.True(t, e.RunningBalance.Equal(cached),
			"running balance %s must equal cache %s", e.RunningBalance, cached)
	}
	assert.True(t, f.store.BalanceOf(f.user.ID, f.asset.ID).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.store.BalanceOf(f.treasury.ID, f.asset.ID).Equal(decimal.NewFromInt(9_999_900)))
}

func TestWriter_Append_SequentialMovementsChainRunningBalances(t *testing.T) {
	f := newWriterFixture(t)

	r1 := f.append(t, f.movement(100, "k1"))
	r2 := f.append(t, f.movement(50, "k2"))

	assert.True(t, r1.DestinationBalance.Equal(decimal.NewFromInt(100)))
	assert.True(t, r2.DestinationBalance.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 4, f.store.EntryCount())
}

func TestWriter_Append_RecordsAuditAndIdempotency(t *testing.T) {
	f := newWriterFixture(t)

	f.append(t, f.movement(100, "k1"))

	assert.Equal(t, 1, f.store.AuditCount())
	rec, err := f.store.IdempotencyLookup(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.IdempotencyStatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.Response)
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

func TestWriter_Append_InsufficientFunds_NothingPersisted(t *testing.T) {
	// GIVEN: Treasury holds 10,000,000
	// WHEN: A movement of 10,000,001 is appended
	// THEN: InsufficientFunds; no header, entries, or cache change

	f := newWriterFixture(t)

	err := f.appendErr(t, f.movement(10_000_001, "k-too-much"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 0, f.store.TransactionCount())
	assert.Equal(t, 0, f.store.EntryCount())
	assert.True(t, f.store.BalanceOf(f.treasury.ID, f.asset.ID).Equal(decimal.NewFromInt(10_000_000)))
}

func TestWriter_Append_ExactBalanceSucceeds(t *testing.T) {
	f := newWriterFixture(t)

	receipt := f.append(t, f.movement(10_000_000, "k-exact"))

	assert.True(t, receipt.SourceBalance.IsZero())
	assert.True(t, receipt.DestinationBalance.Equal(decimal.NewFromInt(10_000_000)))
}

func TestWriter_Append_DuplicateKey_UniqueViolation(t *testing.T) {
	f := newWriterFixture(t)

	f.append(t, f.movement(100, "k1"))
	err := f.appendErr(t, f.movement(100, "k1"))

	assert.ErrorIs(t, err, ledger.ErrUniqueViolation)
	assert.Equal(t, 1, f.store.TransactionCount())
	assert.Equal(t, 2, f.store.EntryCount())
}

func TestWriter_Append_LockNotAvailable_Propagates(t *testing.T) {
	f := newWriterFixture(t)
	f.store.InjectLockFailures(1, ledger.ErrLockNotAvailable)

	err := f.appendErr(t, f.movement(100, "k1"))

	assert.ErrorIs(t, err, ledger.ErrLockNotAvailable)
	assert.Equal(t, 0, f.store.TransactionCount())
}

func TestWriter_Append_Validation(t *testing.T) {
	f := newWriterFixture(t)

	cases := []struct {
		name   string
		mutate func(*ledger.Movement)
	}{
		{"zero amount", func(mv *ledger.Movement) { mv.Amount = decimal.Zero }},
		{"negative amount", func(mv *ledger.Movement) { mv.Amount = decimal.NewFromInt(-5) }},
		{"oversized scale", func(mv *ledger.Movement) { mv.Amount = decimal.RequireFromString("1.001") }},
		{"same account", func(mv *ledger.Movement) { mv.DestinationID = mv.SourceID }},
		{"empty key", func(mv *ledger.Movement) { mv.IdempotencyKey = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mv := f.movement(100, "k-"+tc.name)
			tc.mutate(&mv)
			err := f.appendErr(t, mv)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.store.TransactionCount())
}

func TestWriter_Append_TrailingZerosFitAssetScale(t *testing.T) {
	// 100.000 is a whole value; the scale check must judge the value, not
	// the representation the client sent.
	f := newWriterFixture(t)
	mv := f.movement(100, "k-zeros")
	mv.Amount = decimal.RequireFromString("100.000")

	receipt := f.append(t, mv)

	assert.True(t, receipt.DestinationBalance.Equal(decimal.NewFromInt(100)))
}
