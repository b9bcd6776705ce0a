/*
tx.go - Per-transaction write surface

PURPOSE:
  runTx implements ledger.Tx over an open pgx transaction. Every statement's
  error goes through classify so the engine sees sentinel kinds, never
  SQLSTATEs. NOWAIT lock acquisition lives here: the SQL fails immediately
  on contention rather than blocking, preserving 55P03 for the Retry Driver.
*/
package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/wallet-engine/ledger"
)

type runTx struct {
	tx pgx.Tx
}

// LockAccounts takes row locks in the order given. The Writer passes ids
// ascending; keeping the order here is what prevents circular waits.
func (t *runTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	for _, id := range ids {
		var locked uuid.UUID
		err := t.tx.QueryRow(ctx,
			`SELECT id FROM accounts WHERE id = $1 FOR UPDATE NOWAIT`, id,
		).Scan(&locked)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *runTx) CachedBalance(ctx context.Context, accountID, assetID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(
		   (SELECT balance FROM balance_cache WHERE account_id = $1 AND asset_type_id = $2),
		   0)`,
		accountID, assetID,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return balance, nil
}

func (t *runTx) InsertTransaction(ctx context.Context, h ledger.TransactionHeader) error {
	md := h.Metadata
	if md == nil {
		md = map[string]any{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions
		   (id, idempotency_key, transaction_type, asset_type_id, amount,
		    description, metadata, status, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.IdempotencyKey, string(h.Type), h.AssetID, h.Amount,
		h.Description, md, string(h.Status), h.CreatedAt, h.CompletedAt,
	)
	return classify(err)
}

func (t *runTx) InsertEntry(ctx context.Context, e ledger.Entry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries
		   (id, transaction_id, account_id, asset_type_id, entry_type,
		    amount, running_balance, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TransactionID, e.AccountID, e.AssetID, string(e.Type),
		e.Amount, e.RunningBalance, e.Description, e.CreatedAt,
	)
	return classify(err)
}

func (t *runTx) UpsertBalance(ctx context.Context, accountID, assetID uuid.UUID, balance decimal.Decimal, lastTransactionID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balance_cache (account_id, asset_type_id, balance, last_transaction_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_id, asset_type_id) DO UPDATE
		   SET balance = EXCLUDED.balance,
		       last_transaction_id = EXCLUDED.last_transaction_id,
		       updated_at = EXCLUDED.updated_at`,
		accountID, assetID, balance, lastTransactionID, at,
	)
	return classify(err)
}

func (t *runTx) InsertAudit(ctx context.Context, rec ledger.AuditRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_log (id, action, actor_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Action, rec.ActorID, rec.Payload, rec.CreatedAt,
	)
	return classify(err)
}

func (t *runTx) InsertIdempotency(ctx context.Context, rec ledger.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_log
		   (idempotency_key, request_hash, response_body, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Key, rec.RequestHash, rec.Response, rec.Status, rec.CreatedAt, rec.ExpiresAt,
	)
	return classify(err)
}
