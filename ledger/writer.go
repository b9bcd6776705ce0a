/*
writer.go - The double-entry primitive

PURPOSE:
  Writer.Append is the single write path of the engine. Given a fully
  resolved Movement it appends exactly one transaction header and exactly
  two ledger entries (one debit, one credit of equal magnitude), updates the
  balance cache for both accounts, records the audit trail and the
  idempotency outcome - all inside one caller-supplied serializable
  transaction.

CRITICAL INVARIANTS:
  1. DOUBLE-ENTRY: one debit + one credit, identical amount, identical asset
  2. ORDERED LOCKING: account row locks are taken in ascending id order with
     NOWAIT, so concurrent movements cannot circular-wait
  3. NON-NEGATIVE: the source balance must cover the amount; the storage
     layer's balance >= 0 check backs this up
  4. RUNNING BALANCE: each entry records the account balance after itself,
     equal to the cache value written in the same transaction

STEP ORDER (all-or-nothing):
  1. Lock both accounts, sorted ascending, NOWAIT
  2. Read cached balances (missing rows read as zero)
  3. Enforce source balance >= amount
  4. Insert the header (duplicate idempotency key -> ErrUniqueViolation,
     meaning another worker already completed this movement)
  5. Insert debit + credit entries with running balances
  6. Upsert both balance cache rows
  7. Insert the audit record
  8. Record the idempotency result via the Registry

SEE ALSO:
  - store.go: The Tx interface these steps run against
  - wallet/service.go: Assembles Movements and owns the transaction
*/
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Writer appends movements to the ledger. Safe for concurrent use; all state
// lives in the transaction it is handed.
type Writer struct {
	registry *Registry
	clock    Clock
	log      *zap.Logger
}

// NewWriter creates a Writer recording idempotency outcomes through registry.
func NewWriter(registry *Registry, clock Clock, log *zap.Logger) *Writer {
	if clock == nil {
		clock = NowUTC
	}
	return &Writer{registry: registry, clock: clock, log: log}
}

// Append executes the eight-step atomic append inside tx.
func (w *Writer) Append(ctx context.Context, tx Tx, mv Movement) (Receipt, error) {
	if err := w.check(mv); err != nil {
		return Receipt{}, err
	}

	// Step 1: deterministic lock order, ascending by account id.
	first, second := sortPair(mv.SourceID, mv.DestinationID)
	if err := tx.LockAccounts(ctx, first, second); err != nil {
		return Receipt{}, fmt.Errorf("lock accounts: %w", err)
	}

	// Step 2: current balances; missing cache rows read as zero.
	sourceBalance, err := tx.CachedBalance(ctx, mv.SourceID, mv.Asset.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("read source balance: %w", err)
	}
	destBalance, err := tx.CachedBalance(ctx, mv.DestinationID, mv.Asset.ID)
	if err != nil {
		return Receipt{}, fmt.Errorf("read destination balance: %w", err)
	}

	// Step 3: the source must cover the amount. Not retriable.
	if sourceBalance.LessThan(mv.Amount) {
		return Receipt{}, &InsufficientFundsError{
			AssetCode: mv.Asset.Code,
			Available: sourceBalance,
			Requested: mv.Amount,
		}
	}

	now := w.clock()
	header := TransactionHeader{
		ID:             uuid.New(),
		IdempotencyKey: mv.IdempotencyKey,
		Type:           mv.Type,
		AssetID:        mv.Asset.ID,
		Amount:         mv.Amount,
		Description:    mv.Description,
		Metadata:       mv.Metadata,
		Status:         StatusCompleted,
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	// Step 4: a duplicate key here means another worker won; the caller
	// re-reads the idempotency log and returns that worker's response.
	if err := tx.InsertTransaction(ctx, header); err != nil {
		return Receipt{}, fmt.Errorf("insert transaction: %w", err)
	}

	newSource := sourceBalance.Sub(mv.Amount)
	newDest := destBalance.Add(mv.Amount)

	// Step 5: one debit, one credit, equal magnitude.
	debit := Entry{
		ID:             uuid.New(),
		TransactionID:  header.ID,
		AccountID:      mv.SourceID,
		AssetID:        mv.Asset.ID,
		Type:           EntryDebit,
		Amount:         mv.Amount,
		RunningBalance: newSource,
		Description:    mv.Description,
		CreatedAt:      now,
	}
	credit := Entry{
		ID:             uuid.New(),
		TransactionID:  header.ID,
		AccountID:      mv.DestinationID,
		AssetID:        mv.Asset.ID,
		Type:           EntryCredit,
		Amount:         mv.Amount,
		RunningBalance: newDest,
		Description:    mv.Description,
		CreatedAt:      now,
	}
	if err := tx.InsertEntry(ctx, debit); err != nil {
		return Receipt{}, fmt.Errorf("insert debit entry: %w", err)
	}
	if err := tx.InsertEntry(ctx, credit); err != nil {
		return Receipt{}, fmt.Errorf("insert credit entry: %w", err)
	}

	// Step 6: cache rows move in lockstep with the entries.
	if err := tx.UpsertBalance(ctx, mv.SourceID, mv.Asset.ID, newSource, header.ID, now); err != nil {
		return Receipt{}, fmt.Errorf("update source balance: %w", err)
	}
	if err := tx.UpsertBalance(ctx, mv.DestinationID, mv.Asset.ID, newDest, header.ID, now); err != nil {
		return Receipt{}, fmt.Errorf("update destination balance: %w", err)
	}

	receipt := Receipt{
		TransactionID:      header.ID,
		SourceBalance:      newSource,
		DestinationBalance: newDest,
		CompletedAt:        now,
	}

	// Step 7: audit trail.
	payload, err := json.Marshal(map[string]any{
		"transactionId": header.ID.String(),
		"type":          string(mv.Type),
		"assetCode":     mv.Asset.Code,
		"amount":        mv.Amount.String(),
		"source":        mv.SourceID.String(),
		"destination":   mv.DestinationID.String(),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	audit := AuditRecord{
		ID:        uuid.New(),
		Action:    "ledger." + string(mv.Type),
		ActorID:   mv.ActorID,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := tx.InsertAudit(ctx, audit); err != nil {
		return Receipt{}, fmt.Errorf("insert audit record: %w", err)
	}

	// Step 8: idempotency outcome, committed with everything above.
	response, err := mv.BuildResponse(receipt)
	if err != nil {
		return Receipt{}, fmt.Errorf("build response: %w", err)
	}
	if err := w.registry.Record(ctx, tx, mv.IdempotencyKey, mv.RequestHash, response, now); err != nil {
		return Receipt{}, fmt.Errorf("record idempotency: %w", err)
	}

	w.log.Debug("movement appended",
		zap.String("transaction_id", header.ID.String()),
		zap.String("type", string(mv.Type)),
		zap.String("asset", mv.Asset.Code),
		zap.String("amount", mv.Amount.String()))

	return receipt, nil
}

// check enforces the Movement preconditions the orchestrator must have met.
func (w *Writer) check(mv Movement) error {
	if mv.SourceID == uuid.Nil || mv.DestinationID == uuid.Nil {
		return &ValidationError{Field: "account", Reason: "unresolved account id"}
	}
	if mv.SourceID == mv.DestinationID {
		return &ValidationError{Field: "account", Reason: "source and destination are the same account"}
	}
	if !mv.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be strictly positive"}
	}
	if !mv.Asset.Fits(mv.Amount) {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("scale exceeds asset precision of %d", mv.Asset.Decimals)}
	}
	if mv.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotencyKey", Reason: "must not be empty"}
	}
	if mv.BuildResponse == nil {
		return &ValidationError{Field: "movement", Reason: "missing response builder"}
	}
	return nil
}

// sortPair orders two account ids ascending by their byte representation.
func sortPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}
