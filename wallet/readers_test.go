package wallet_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// BALANCES
// =============================================================================

func TestService_GetBalance_SingleAsset(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.GetBalance(context.Background(), "user_001", "GOLD_COIN")

	require.NoError(t, err)
	assert.Equal(t, "GOLD_COIN", view.AssetCode)
	assert.Equal(t, "Gold Coin", view.AssetName)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(500)))
}

func TestService_GetBalance_UntouchedAssetReadsZero(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.GetBalance(context.Background(), "user_001", "DIAMOND")

	require.NoError(t, err)
	assert.True(t, view.Balance.IsZero())
}

func TestService_GetBalance_UnknownAssetIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetBalance(context.Background(), "user_001", "PLATINUM")

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestService_GetAllBalances_OneRowPerActiveAsset(t *testing.T) {
	f := newFixture(t)

	views, err := f.service.GetAllBalances(context.Background(), "user_001")

	require.NoError(t, err)
	require.Len(t, views, 2)

	byCode := make(map[string]ledger.BalanceView, len(views))
	for _, v := range views {
		byCode[v.AssetCode] = v
	}
	assert.True(t, byCode["GOLD_COIN"].Balance.Equal(decimal.NewFromInt(500)))
	assert.True(t, byCode["DIAMOND"].Balance.IsZero(), "unheld assets are zero-filled")
}

func TestService_GetBalance_EmptyArgumentsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetBalance(context.Background(), "", "GOLD_COIN")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.GetBalance(context.Background(), "user_001", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.GetAllBalances(context.Background(), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// HISTORY
// =============================================================================

// seedHistory runs three movements so user_001 has three entries.
func seedHistory(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.TopUp(ctx, req("user_001", "GOLD_COIN", "100", "h-1"))
	require.NoError(t, err)
	_, err = f.service.Purchase(ctx, req("user_001", "GOLD_COIN", "30", "h-2"))
	require.NoError(t, err)
	_, err = f.service.IssueBonus(ctx, req("user_001", "GOLD_COIN", "20", "h-3"))
	require.NoError(t, err)
}

func TestService_GetHistory_NewestFirstWithRunningBalances(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)

	entries, err := f.service.GetHistory(context.Background(), "user_001", 0, 0)

	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first: bonus, purchase, top-up.
	assert.Equal(t, ledger.TxBonus, entries[0].Type)
	assert.Equal(t, ledger.TxPurchase, entries[1].Type)
	assert.Equal(t, ledger.TxTopUp, entries[2].Type)

	// Running balances replay the wallet's trajectory: 600, 570, 590.
	assert.True(t, entries[2].RunningBalance.Equal(decimal.NewFromInt(600)))
	assert.True(t, entries[1].RunningBalance.Equal(decimal.NewFromInt(570)))
	assert.True(t, entries[0].RunningBalance.Equal(decimal.NewFromInt(590)))

	// The user is credited on top-up/bonus and debited on purchase.
	assert.Equal(t, ledger.EntryCredit, entries[0].EntryType)
	assert.Equal(t, ledger.EntryDebit, entries[1].EntryType)
	assert.Equal(t, ledger.EntryCredit, entries[2].EntryType)
}

func TestService_GetHistory_Paging(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)
	ctx := context.Background()

	page1, err := f.service.GetHistory(ctx, "user_001", 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := f.service.GetHistory(ctx, "user_001", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)

	assert.Equal(t, ledger.TxTopUp, page2[0].Type)

	beyond, err := f.service.GetHistory(ctx, "user_001", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestService_GetHistory_LimitDefaultsAndCap(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)

	// A tightly configured service shows the default and the cap applying.
	svc := wallet.NewService(f.store, wallet.Config{HistoryLimit: 1, HistoryMax: 2}, nil, zap.NewNop())
	ctx := context.Background()

	defaulted, err := svc.GetHistory(ctx, "user_001", 0, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, 1, "limit 0 takes the configured default")

	capped, err := svc.GetHistory(ctx, "user_001", 50, 0)
	require.NoError(t, err)
	assert.Len(t, capped, 2, "oversized limits clamp to the configured max")
}

func TestService_GetHistory_InvalidPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.GetHistory(ctx, "user_001", -1, 0)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.GetHistory(ctx, "user_001", 0, -1)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.service.GetHistory(ctx, "", 0, 0)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestService_GetHistory_UnknownUserIsEmpty(t *testing.T) {
	f := newFixture(t)

	entries, err := f.service.GetHistory(context.Background(), "ghost", 0, 0)

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_GetHistory_SystemEntriesNotVisibleToUser(t *testing.T) {
	// The treasury side of a top-up belongs to the treasury's history, not
	// the user's.
	f := newFixture(t)
	_, err := f.service.TopUp(context.Background(), req("user_001", "GOLD_COIN", "100", "h-1"))
	require.NoError(t, err)

	entries, err := f.service.GetHistory(context.Background(), "user_001", 0, 0)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryCredit, entries[0].EntryType)
}
