/*
schema.go - DDL and bootstrap seeding

PURPOSE:
  Creates the nine relations idempotently on startup and seeds the rows the
  engine expects to exist: account types, transaction types, default assets,
  and the four system accounts. User wallets are created out-of-band in the
  original deployment; EnsureUserAccount is the hook the demo API uses.

STORAGE INVARIANTS (defense in depth behind the engine's checks):
  - transactions.idempotency_key UNIQUE
  - transactions.amount > 0, ledger_entries.amount > 0
  - balance_cache.balance >= 0
  - one system account per system account type (partial unique index)

INDEXES:
  - ledger_entries(account_id, asset_type_id): balance reconciliation
  - ledger_entries(account_id, created_at DESC): history reads (hot path)
  - idempotency_log(expires_at): the external purge job
*/
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_types (
	id         UUID PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	decimals   INT  NOT NULL DEFAULT 8 CHECK (decimals >= 0 AND decimals <= 8),
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS account_types (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS accounts (
	id           UUID PRIMARY KEY,
	account_type TEXT NOT NULL REFERENCES account_types(code),
	user_id      TEXT UNIQUE,
	name         TEXT NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}',
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One account per system pool type.
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_system_singleton
	ON accounts(account_type) WHERE account_type <> 'USER';

CREATE TABLE IF NOT EXISTS transaction_types (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
	id               UUID PRIMARY KEY,
	idempotency_key  TEXT NOT NULL UNIQUE,
	transaction_type TEXT NOT NULL REFERENCES transaction_types(code),
	asset_type_id    UUID NOT NULL REFERENCES asset_types(id),
	amount           NUMERIC(20,8) NOT NULL CHECK (amount > 0),
	description      TEXT NOT NULL DEFAULT '',
	metadata         JSONB NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'pending'
	                 CHECK (status IN ('pending', 'completed', 'failed', 'reversed')),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id              UUID PRIMARY KEY,
	transaction_id  UUID NOT NULL REFERENCES transactions(id),
	account_id      UUID NOT NULL REFERENCES accounts(id),
	asset_type_id   UUID NOT NULL REFERENCES asset_types(id),
	entry_type      TEXT NOT NULL CHECK (entry_type IN ('debit', 'credit')),
	amount          NUMERIC(20,8) NOT NULL CHECK (amount > 0),
	running_balance NUMERIC(20,8) NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One debit and one credit per transaction, never two of a side.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_tx_side
	ON ledger_entries(transaction_id, entry_type);

CREATE INDEX IF NOT EXISTS idx_entries_account_asset
	ON ledger_entries(account_id, asset_type_id);
CREATE INDEX IF NOT EXISTS idx_entries_account_created
	ON ledger_entries(account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS balance_cache (
	account_id          UUID NOT NULL REFERENCES accounts(id),
	asset_type_id       UUID NOT NULL REFERENCES asset_types(id),
	balance             NUMERIC(20,8) NOT NULL CHECK (balance >= 0),
	last_transaction_id UUID REFERENCES transactions(id),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, asset_type_id)
);

CREATE TABLE IF NOT EXISTS idempotency_log (
	idempotency_key TEXT PRIMARY KEY,
	request_hash    TEXT NOT NULL,
	response_body   JSONB,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires
	ON idempotency_log(expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         UUID PRIMARY KEY,
	action     TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// migrate creates the schema. Statements are idempotent; reruns are no-ops.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return classify(err)
}

// defaultAssets seeded at bootstrap. Decimals are per-asset fixed-point
// scales; amounts with finer scale are rejected by the orchestrator.
var defaultAssets = []struct {
	code     string
	name     string
	decimals int32
}{
	{"GOLD_COIN", "Gold Coin", 2},
	{"DIAMOND", "Diamond", 0},
	{"LOYALTY_POINT", "Loyalty Point", 0},
}

var systemAccounts = []struct {
	accountType ledger.AccountType
	name        string
}{
	{ledger.AccountTreasury, "System Treasury"},
	{ledger.AccountRevenue, "System Revenue"},
	{ledger.AccountBonus, "System Bonus Pool"},
	{ledger.AccountReserve, "System Reserve"},
}

// Bootstrap seeds lookup tables, default assets, and the system accounts.
// Existing rows are left untouched.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, at := range []ledger.AccountType{
		ledger.AccountUser, ledger.AccountTreasury, ledger.AccountRevenue,
		ledger.AccountBonus, ledger.AccountReserve,
	} {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO account_types (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`,
			string(at),
		); err != nil {
			return classify(err)
		}
	}

	for _, tt := range []ledger.TransactionType{
		ledger.TxTopUp, ledger.TxBonus, ledger.TxPurchase,
	} {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO transaction_types (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`,
			string(tt),
		); err != nil {
			return classify(err)
		}
	}

	for _, a := range defaultAssets {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO asset_types (id, code, name, decimals)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (code) DO NOTHING`,
			uuid.New(), a.code, a.name, a.decimals,
		); err != nil {
			return classify(err)
		}
	}

	for _, sa := range systemAccounts {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO accounts (id, account_type, name)
			 VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			uuid.New(), string(sa.accountType), sa.name,
		); err != nil {
			return classify(err)
		}
	}

	s.log.Info("bootstrap complete",
		zap.Int("assets", len(defaultAssets)),
		zap.Int("system_accounts", len(systemAccounts)))
	return nil
}

// EnsureUserAccount creates the USER wallet for userID if it does not exist
// and returns it either way.
func (s *Store) EnsureUserAccount(ctx context.Context, userID, name string) (ledger.Account, error) {
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("empty user id: %w", ledger.ErrValidation)
	}
	if name == "" {
		name = "Wallet " + userID
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, account_type, user_id, name)
		 VALUES ($1, 'USER', $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID, name,
	); err != nil {
		return ledger.Account{}, classify(err)
	}
	return s.UserAccount(ctx, userID)
}
