/*
Package postgres is the production store adapter over pgx/v5.

PURPOSE:
  Implements ledger.Store and ledger.Tx against PostgreSQL: a pgxpool with
  configurable sizing and timeouts, serializable transactions with
  guaranteed rollback on every non-success exit, and classification of
  SQLSTATEs onto the engine's error sentinels.

ERROR CLASSIFICATION:
  40001 serialization_failure  -> ErrSerializationFailure (retriable)
  40P01 deadlock_detected      -> ErrDeadlockDetected     (retriable)
  55P03 lock_not_available     -> ErrLockNotAvailable     (retriable, NOWAIT)
  23505 unique_violation       -> ErrUniqueViolation
  23514 check_violation        -> ErrCheckViolation
  no rows                      -> ErrNotFound
  anything else                -> ErrInternal

POOL BEHAVIOR:
  MinConns keeps warm connections; HealthCheckPeriod rides out idle
  disconnects. statement_timeout is set per connection so a wedged statement
  cannot hold a pool slot forever. Per-connection errors are the pool's
  problem, not the process's.

SEE ALSO:
  - tx.go: The per-transaction write surface
  - schema.go: DDL, bootstrap seeding
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
)

// =============================================================================
// CONFIG & CONSTRUCTION
// =============================================================================

// Config sizes the pool and its timeouts. Zero values take the defaults.
type Config struct {
	URL              string
	MinConns         int32
	MaxConns         int32
	ConnectTimeout   time.Duration
	IdleTimeout      time.Duration
	StatementTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinConns <= 0 {
		c.MinConns = 10
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 50
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = 30 * time.Second
	}
	return c
}

// Store implements ledger.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New builds the pool, verifies connectivity, and ensures the schema.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
		strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info("postgres pool ready",
		zap.Int32("min_conns", cfg.MinConns),
		zap.Int32("max_conns", cfg.MaxConns))
	return s, nil
}

// Close drains the pool. In-flight transactions are rolled back by the
// server when their connections close.
func (s *Store) Close() {
	s.pool.Close()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RunSerializable opens a serializable transaction, executes fn, commits on
// success, and rolls back on any failure including cancellation.
func (s *Store) RunSerializable(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(&runTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// =============================================================================
// RESOLUTION LOOKUPS
// =============================================================================

func (s *Store) AssetByCode(ctx context.Context, code string) (ledger.Asset, error) {
	var a ledger.Asset
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, name, decimals, is_active
		   FROM asset_types
		  WHERE code = $1 AND is_active`,
		code,
	).Scan(&a.ID, &a.Code, &a.Name, &a.Decimals, &a.Active)
	if err != nil {
		return ledger.Asset{}, classify(err)
	}
	return a, nil
}

func (s *Store) UserAccount(ctx context.Context, userID string) (ledger.Account, error) {
	return s.account(ctx,
		`SELECT id, account_type, COALESCE(user_id, ''), name, metadata, is_active
		   FROM accounts
		  WHERE user_id = $1 AND is_active`,
		userID)
}

func (s *Store) SystemAccount(ctx context.Context, accountType ledger.AccountType) (ledger.Account, error) {
	return s.account(ctx,
		`SELECT id, account_type, COALESCE(user_id, ''), name, metadata, is_active
		   FROM accounts
		  WHERE account_type = $1 AND is_active`,
		string(accountType))
}

func (s *Store) account(ctx context.Context, query string, arg any) (ledger.Account, error) {
	var a ledger.Account
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&a.ID, &a.Type, &a.UserID, &a.Name, &a.Metadata, &a.Active)
	if err != nil {
		return ledger.Account{}, classify(err)
	}
	return a, nil
}

// =============================================================================
// IDEMPOTENCY FAST PATH
// =============================================================================

func (s *Store) IdempotencyLookup(ctx context.Context, key string) (*ledger.IdempotencyRecord, error) {
	var rec ledger.IdempotencyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT idempotency_key, request_hash, response_body, status, created_at, expires_at
		   FROM idempotency_log
		  WHERE idempotency_key = $1`,
		key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Response, &rec.Status, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

// =============================================================================
// READ AUXILIARIES
// =============================================================================

func (s *Store) UserBalance(ctx context.Context, userID, assetCode string) (ledger.BalanceView, error) {
	var v ledger.BalanceView
	err := s.pool.QueryRow(ctx,
		`SELECT at.code, at.name, COALESCE(bc.balance, 0)
		   FROM asset_types at
		   LEFT JOIN accounts a
		     ON a.user_id = $1 AND a.is_active
		   LEFT JOIN balance_cache bc
		     ON bc.account_id = a.id AND bc.asset_type_id = at.id
		  WHERE at.code = $2 AND at.is_active`,
		userID, assetCode,
	).Scan(&v.AssetCode, &v.AssetName, &v.Balance)
	if err != nil {
		return ledger.BalanceView{}, classify(err)
	}
	return v, nil
}

func (s *Store) UserBalances(ctx context.Context, userID string) ([]ledger.BalanceView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT at.code, at.name, COALESCE(bc.balance, 0)
		   FROM asset_types at
		   LEFT JOIN accounts a
		     ON a.user_id = $1 AND a.is_active
		   LEFT JOIN balance_cache bc
		     ON bc.account_id = a.id AND bc.asset_type_id = at.id
		  WHERE at.is_active
		  ORDER BY at.code`,
		userID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var views []ledger.BalanceView
	for rows.Next() {
		var v ledger.BalanceView
		if err := rows.Scan(&v.AssetCode, &v.AssetName, &v.Balance); err != nil {
			return nil, classify(err)
		}
		views = append(views, v)
	}
	return views, classify(rows.Err())
}

func (s *Store) UserHistory(ctx context.Context, userID string, limit, offset int) ([]ledger.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT le.id, le.transaction_id, t.transaction_type, t.status, at.code,
		        le.entry_type, le.amount, le.running_balance,
		        COALESCE(le.description, ''), t.metadata, le.created_at
		   FROM ledger_entries le
		   JOIN transactions t ON t.id = le.transaction_id
		   JOIN accounts a ON a.id = le.account_id
		   JOIN asset_types at ON at.id = le.asset_type_id
		  WHERE a.user_id = $1
		  ORDER BY t.created_at DESC, le.created_at DESC
		  LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var e ledger.HistoryEntry
		if err := rows.Scan(&e.EntryID, &e.TransactionID, &e.Type, &e.Status,
			&e.AssetCode, &e.EntryType, &e.Amount, &e.RunningBalance,
			&e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		entries = append(entries, e)
	}
	return entries, classify(rows.Err())
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify maps native driver errors onto the engine's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("no rows: %w", ledger.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return fmt.Errorf("%s: %w", pgErr.Message, ledger.ErrSerializationFailure)
		case "40P01":
			return fmt.Errorf("%s: %w", pgErr.Message, ledger.ErrDeadlockDetected)
		case "55P03":
			return fmt.Errorf("%s: %w", pgErr.Message, ledger.ErrLockNotAvailable)
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.Message, ledger.ErrUniqueViolation)
		case "23514":
			return fmt.Errorf("%s: %w", pgErr.Message, ledger.ErrCheckViolation)
		}
	}
	return fmt.Errorf("storage: %v: %w", err, ledger.ErrInternal)
}
