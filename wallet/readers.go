/*
readers.go - Balance and history reads

PURPOSE:
  Read-only auxiliaries over the balance cache and the ledger. Neither
  participates in the locking protocol; the cache is authoritative for
  reads and is maintained in lockstep with entries by the Writer.

SEMANTICS:
  - A user with no cache row in an asset reads as balance zero. Whether the
    account exists but is untouched, or has simply never moved this asset,
    is not a user-facing distinction here.
  - History is ordered by transaction creation time descending and paged
    with limit/offset; limit defaults to 50 and is capped at 100.
*/
package wallet

import (
	"context"
	"fmt"

	"github.com/warp/wallet-engine/ledger"
)

// History paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// GetBalance returns the user's cached balance in one asset.
func (s *Service) GetBalance(ctx context.Context, userID, assetCode string) (*ledger.BalanceView, error) {
	if userID == "" {
		return nil, &ledger.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if assetCode == "" {
		return nil, &ledger.ValidationError{Field: "assetCode", Reason: "must not be empty"}
	}
	view, err := s.store.UserBalance(ctx, userID, assetCode)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return &view, nil
}

// GetAllBalances returns one row per active asset, zero-filled where the
// user holds nothing.
func (s *Service) GetAllBalances(ctx context.Context, userID string) ([]ledger.BalanceView, error) {
	if userID == "" {
		return nil, &ledger.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	views, err := s.store.UserBalances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	return views, nil
}

// GetHistory returns ledger entries on the user's account joined with their
// headers, newest transaction first.
func (s *Service) GetHistory(ctx context.Context, userID string, limit, offset int) ([]ledger.HistoryEntry, error) {
	if userID == "" {
		return nil, &ledger.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if limit < 0 {
		return nil, &ledger.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if offset < 0 {
		return nil, &ledger.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if limit == 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > s.cfg.HistoryMax {
		limit = s.cfg.HistoryMax
	}
	entries, err := s.store.UserHistory(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}
