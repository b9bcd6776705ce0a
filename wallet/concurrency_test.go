package wallet_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CONCURRENT MOVEMENTS
// =============================================================================

func TestService_ConcurrentTopUps_DistinctKeys(t *testing.T) {
	// GIVEN: user_001 holds 500 GOLD_COIN
	// WHEN: 50 workers each top up 10 under distinct keys
	// THEN: All succeed; balance 1000; 50 headers; 100 entries

	f := newFixture(t)
	g, ctx := errgroup.WithContext(context.Background())

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("conc-%02d", i)
		g.Go(func() error {
			_, err := f.service.TopUp(ctx, req("user_001", "GOLD_COIN", "10", key))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, f.store.BalanceOf(f.user.ID, f.gold.ID).Equal(decimal.NewFromInt(1000)))
	assert.True(t, f.store.BalanceOf(f.treasury.ID, f.gold.ID).Equal(decimal.NewFromInt(9_999_500)))
	assert.Equal(t, 50, f.store.TransactionCount())
	assert.Equal(t, 100, f.store.EntryCount())
}

func TestService_ConcurrentTopUps_SameKey_OneTransaction(t *testing.T) {
	// GIVEN: 10 workers race the identical request under one key
	// WHEN: They all complete
	// THEN: Exactly one header exists and every worker saw its id

	f := newFixture(t)
	r := req("user_001", "GOLD_COIN", "100", "shared-key")

	var mu sync.Mutex
	ids := make(map[string]int)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			res, err := f.service.TopUp(ctx, r)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[res.TransactionID]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, ids, 1, "all workers must observe one transaction id")
	for id, seen := range ids {
		assert.Equal(t, 10, seen)
		header, ok := f.store.TransactionByKey("shared-key")
		require.True(t, ok)
		assert.Equal(t, header.ID.String(), id)
	}
	assert.Equal(t, 1, f.store.TransactionCount())
	assert.Equal(t, 2, f.store.EntryCount())
	assert.True(t, f.store.BalanceOf(f.user.ID, f.gold.ID).Equal(decimal.NewFromInt(600)),
		"the movement must apply exactly once")
}

func TestService_ConcurrentMixedOperations_ConservesTotal(t *testing.T) {
	// Interleaved top-ups and purchases; the sum over all accounts in the
	// asset is invariant because every movement is a transfer.

	f := newFixture(t)
	total := func() decimal.Decimal {
		return f.store.BalanceOf(f.user.ID, f.gold.ID).
			Add(f.store.BalanceOf(f.treasury.ID, f.gold.ID)).
			Add(f.store.BalanceOf(f.bonus.ID, f.gold.ID)).
			Add(f.store.BalanceOf(f.revenue.ID, f.gold.ID))
	}
	before := total()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		topupKey := fmt.Sprintf("mix-topup-%02d", i)
		buyKey := fmt.Sprintf("mix-buy-%02d", i)
		g.Go(func() error {
			_, err := f.service.TopUp(ctx, req("user_001", "GOLD_COIN", "10", topupKey))
			return err
		})
		g.Go(func() error {
			_, err := f.service.Purchase(ctx, req("user_001", "GOLD_COIN", "5", buyKey))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, total().Equal(before), "transfers must conserve the asset total")
	assert.Equal(t, 40, f.store.TransactionCount())

	// 500 + 20*10 - 20*5
	assert.True(t, f.store.BalanceOf(f.user.ID, f.gold.ID).Equal(decimal.NewFromInt(600)))
}
