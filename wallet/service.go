/*
service.go - Movement orchestration

PURPOSE:
  Encodes top-up, bonus, and purchase as parameterizations of the ledger
  Writer. Each call runs: validate -> idempotency fast path -> resolve asset
  and accounts -> serializable transaction with the eight-step append -> the
  assembled response. The whole attempt is wrapped by the Retry Driver so
  transient serialization and lock conflicts are absorbed here.

KEY RACES:
  - Two workers, same key, neither recorded yet: both pass the fast path,
    one commits, the other hits ErrUniqueViolation on the header insert.
    The loser re-reads the idempotency log and returns the winner's
    response, so all callers observe one transaction id.
  - Same key, different payload: the canonical hash comparison in the
    Registry rejects the replay with ErrConflict.

SEE ALSO:
  - ledger/writer.go: The append this orchestrates
  - ledger/retry.go: The retry envelope
*/
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
)

// Config carries the tunables of the service. Zero values take the engine
// defaults.
type Config struct {
	Retry          ledger.RetryConfig
	IdempotencyTTL time.Duration
	HistoryLimit   int
	HistoryMax     int
}

// Service is the public surface of the wallet engine: three writes, two
// reads.
type Service struct {
	store    ledger.Store
	writer   *ledger.Writer
	registry *ledger.Registry
	retry    *ledger.RetryDriver
	cfg      Config
	clock    ledger.Clock
	log      *zap.Logger
}

// NewService wires the engine components around store. clock may be nil for
// wall-clock time.
func NewService(store ledger.Store, cfg Config, clock ledger.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = ledger.NowUTC
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = MaxHistoryLimit
	}
	registry := ledger.NewRegistry(store, cfg.IdempotencyTTL, clock, log)
	return &Service{
		store:    store,
		writer:   ledger.NewWriter(registry, clock, log),
		registry: registry,
		retry:    ledger.NewRetryDriver(cfg.Retry, log),
		cfg:      cfg,
		clock:    clock,
		log:      log,
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// operation parameterizes the Writer for one business operation.
type operation struct {
	txType       ledger.TransactionType
	counterparty ledger.AccountType
	userIsSource bool
	describe     func(req MovementRequest) string
}

var (
	opTopUp = operation{
		txType:       ledger.TxTopUp,
		counterparty: ledger.AccountTreasury,
		describe: func(req MovementRequest) string {
			return fmt.Sprintf("top-up of %s %s", req.Amount, req.AssetCode)
		},
	}
	opBonus = operation{
		txType:       ledger.TxBonus,
		counterparty: ledger.AccountBonus,
		describe: func(req MovementRequest) string {
			return fmt.Sprintf("bonus of %s %s", req.Amount, req.AssetCode)
		},
	}
	opPurchase = operation{
		txType:       ledger.TxPurchase,
		counterparty: ledger.AccountRevenue,
		userIsSource: true,
		describe: func(req MovementRequest) string {
			return fmt.Sprintf("purchase of %s %s", req.Amount, req.AssetCode)
		},
	}
)

// TopUp moves purchased credits from the treasury into the user's wallet.
func (s *Service) TopUp(ctx context.Context, req MovementRequest) (*MovementResult, error) {
	return s.execute(ctx, opTopUp, req)
}

// IssueBonus moves gifted credits from the bonus pool into the user's wallet.
func (s *Service) IssueBonus(ctx context.Context, req MovementRequest) (*MovementResult, error) {
	return s.execute(ctx, opBonus, req)
}

// Purchase moves credits from the user's wallet into the revenue sink.
func (s *Service) Purchase(ctx context.Context, req MovementRequest) (*MovementResult, error) {
	return s.execute(ctx, opPurchase, req)
}

// =============================================================================
// ORCHESTRATION
// =============================================================================

func (s *Service) execute(ctx context.Context, op operation, req MovementRequest) (*MovementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash := ledger.RequestHash(req.UserID, req.AssetCode, req.Amount)

	var result *MovementResult
	err := s.retry.Do(ctx, string(op.txType), func(ctx context.Context) error {
		var err error
		result, err = s.attempt(ctx, op, req, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) attempt(ctx context.Context, op operation, req MovementRequest, hash string) (*MovementResult, error) {
	// Fast path: a completed, unexpired record short-circuits before any
	// transaction is opened.
	if cached, err := s.registry.Lookup(ctx, req.IdempotencyKey, hash); err != nil {
		return nil, err
	} else if cached != nil {
		return decodeResult(cached)
	}

	asset, err := s.store.AssetByCode(ctx, req.AssetCode)
	if err != nil {
		return nil, fmt.Errorf("resolve asset %q: %w", req.AssetCode, err)
	}
	if !asset.Fits(req.Amount) {
		return nil, &ledger.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("scale exceeds %s precision of %d", asset.Code, asset.Decimals),
		}
	}
	user, err := s.store.UserAccount(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", req.UserID, err)
	}
	counterparty, err := s.store.SystemAccount(ctx, op.counterparty)
	if err != nil {
		return nil, fmt.Errorf("resolve %s account: %w", op.counterparty, err)
	}

	source, destination := counterparty, user
	if op.userIsSource {
		source, destination = user, counterparty
	}

	var result MovementResult
	err = s.store.RunSerializable(ctx, func(tx ledger.Tx) error {
		mv := ledger.Movement{
			SourceID:       source.ID,
			DestinationID:  destination.ID,
			Asset:          asset,
			Amount:         req.Amount,
			Type:           op.txType,
			Description:    op.describe(req),
			Metadata:       req.Metadata,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    hash,
			ActorID:        req.UserID,
			BuildResponse: func(rc ledger.Receipt) ([]byte, error) {
				result = s.assemble(op, req, rc)
				return json.Marshal(result)
			},
		}
		_, err := s.writer.Append(ctx, tx, mv)
		return err
	})
	if err != nil {
		// The insufficient-funds error from the Writer does not know which
		// account it rejected; name it here.
		var ife *ledger.InsufficientFundsError
		if errors.As(err, &ife) && ife.AccountName == "" {
			ife.AccountName = source.Name
		}
		if errors.Is(err, ledger.ErrUniqueViolation) {
			return s.replayWinner(ctx, req.IdempotencyKey, hash)
		}
		return nil, err
	}

	s.log.Info("movement completed",
		zap.String("op", string(op.txType)),
		zap.String("user_id", req.UserID),
		zap.String("asset", req.AssetCode),
		zap.String("amount", req.Amount.String()),
		zap.String("transaction_id", result.TransactionID))
	return &result, nil
}

// assemble builds the caller-facing response from a committed receipt. The
// user-side balance is the destination for top-up/bonus and the source for
// purchases.
func (s *Service) assemble(op operation, req MovementRequest, rc ledger.Receipt) MovementResult {
	userBalance := rc.DestinationBalance
	if op.userIsSource {
		userBalance = rc.SourceBalance
	}
	res := MovementResult{
		TransactionID: rc.TransactionID.String(),
		UserID:        req.UserID,
		AssetCode:     req.AssetCode,
		Amount:        req.Amount,
		NewBalance:    userBalance,
		Timestamp:     rc.CompletedAt.UTC().Format(time.RFC3339),
	}
	switch op.txType {
	case ledger.TxBonus:
		res.Reason = metaString(req.Metadata, "reason")
	case ledger.TxPurchase:
		res.Item = metaString(req.Metadata, "itemName")
	}
	return res
}

// replayWinner handles a collision on the header's unique key: either
// another worker committed the same movement first, or an earlier request
// committed it and its idempotency record has since expired. The committed
// response is the canonical outcome either way, so the read here ignores
// expiry - a stale record must terminate the request, not send it back
// through the retry loop.
func (s *Service) replayWinner(ctx context.Context, key, hash string) (*MovementResult, error) {
	cached, err := s.registry.Committed(ctx, key, hash)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		// The header exists but no completed record is visible: the winning
		// transaction has not committed yet from our snapshot. Surface as
		// transient so the Retry Driver re-runs the attempt.
		return nil, fmt.Errorf("idempotency record not yet visible for key: %w", ledger.ErrSerializationFailure)
	}
	s.log.Debug("returning committed response for key", zap.String("key", key))
	return decodeResult(cached)
}

func decodeResult(body []byte) (*MovementResult, error) {
	var res MovementResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", ledger.ErrInternal)
	}
	return &res, nil
}
