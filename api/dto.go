/*
dto.go - Request and response bodies for the wallet API

PURPOSE:
  JSON shapes decoupling the HTTP contract from the engine's types. Amounts
  ride as decimal.Decimal, which accepts both JSON numbers and numeric
  strings on the way in and renders exact decimals on the way out.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wallet-engine/ledger"
)

// MovementRequestDTO is the body of the three write endpoints.
type MovementRequestDTO struct {
	UserID         string         `json:"userId"`
	AssetCode      string         `json:"assetCode"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// CreateAccountRequest provisions a user wallet (demo surface; production
// wallets are created out-of-band).
type CreateAccountRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// AccountDTO is a provisioned wallet.
type AccountDTO struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// BalanceDTO is one cached balance.
type BalanceDTO struct {
	AssetCode string          `json:"assetCode"`
	AssetName string          `json:"assetName"`
	Balance   decimal.Decimal `json:"balance"`
}

// HistoryEntryDTO is one ledger entry joined with its header.
type HistoryEntryDTO struct {
	EntryID        string          `json:"entryId"`
	TransactionID  string          `json:"transactionId"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	AssetCode      string          `json:"assetCode"`
	EntryType      string          `json:"entryType"`
	Amount         decimal.Decimal `json:"amount"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      string          `json:"createdAt"`
}

// HistoryResponse pages history entries.
type HistoryResponse struct {
	UserID  string            `json:"userId"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	Entries []HistoryEntryDTO `json:"entries"`
}

// ErrorResponse is the uniform error body. CorrelationID is set only for
// internal errors, for log correlation.
type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func historyDTO(e ledger.HistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		EntryID:        e.EntryID.String(),
		TransactionID:  e.TransactionID.String(),
		Type:           string(e.Type),
		Status:         string(e.Status),
		AssetCode:      e.AssetCode,
		EntryType:      string(e.EntryType),
		Amount:         e.Amount,
		RunningBalance: e.RunningBalance,
		Description:    e.Description,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
