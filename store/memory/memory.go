/*
Package memory is an in-memory ledger.Store for tests and development.

PURPOSE:
  Implements the full storage contract without a database: snapshot-based
  transaction rollback, unique-key enforcement on idempotency keys, the
  balance >= 0 check, and injectable NOWAIT lock failures so retry behavior
  is testable. RunSerializable holds one big lock for the duration of the
  transaction - serial execution is trivially serializable.

SEE ALSO:
  - ledger/store.go: The contract this implements
  - store/postgres: The production adapter with the same semantics
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/wallet-engine/ledger"
)

type balKey struct {
	Account uuid.UUID
	Asset   uuid.UUID
}

type balanceRow struct {
	Balance           decimal.Decimal
	LastTransactionID uuid.UUID
	UpdatedAt         time.Time
}

// Memory holds all state behind one mutex.
type Memory struct {
	mu sync.Mutex

	assets       map[string]ledger.Asset
	accounts     map[uuid.UUID]ledger.Account
	byUser       map[string]uuid.UUID
	byType       map[ledger.AccountType]uuid.UUID
	transactions map[uuid.UUID]ledger.TransactionHeader
	txByKey      map[string]uuid.UUID
	entries      []ledger.Entry
	balances     map[balKey]balanceRow
	idempotency  map[string]ledger.IdempotencyRecord
	audits       []ledger.AuditRecord

	lockFailures int
	lockErr      error
}

// New creates an empty store. Seed assets and accounts before use.
func New() *Memory {
	return &Memory{
		assets:       make(map[string]ledger.Asset),
		accounts:     make(map[uuid.UUID]ledger.Account),
		byUser:       make(map[string]uuid.UUID),
		byType:       make(map[ledger.AccountType]uuid.UUID),
		transactions: make(map[uuid.UUID]ledger.TransactionHeader),
		txByKey:      make(map[string]uuid.UUID),
		balances:     make(map[balKey]balanceRow),
		idempotency:  make(map[string]ledger.IdempotencyRecord),
	}
}

// =============================================================================
// SEEDING & INSPECTION (test surface)
// =============================================================================

// SeedAsset registers an active asset.
func (m *Memory) SeedAsset(code, name string, decimals int32) ledger.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := ledger.Asset{ID: uuid.New(), Code: code, Name: name, Decimals: decimals, Active: true}
	m.assets[code] = a
	return a
}

// SeedSystemAccount registers the singleton account of a system type.
func (m *Memory) SeedSystemAccount(t ledger.AccountType, name string) ledger.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := ledger.Account{ID: uuid.New(), Type: t, Name: name, Active: true}
	m.accounts[a.ID] = a
	m.byType[t] = a.ID
	return a
}

// SeedUserAccount registers a USER wallet.
func (m *Memory) SeedUserAccount(userID, name string) ledger.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := ledger.Account{ID: uuid.New(), Type: ledger.AccountUser, UserID: userID, Name: name, Active: true}
	m.accounts[a.ID] = a
	m.byUser[userID] = a.ID
	return a
}

// EnsureUserAccount creates the USER wallet for userID if absent and
// returns it either way. Matches the postgres store's provisioning hook.
func (m *Memory) EnsureUserAccount(_ context.Context, userID, name string) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == "" {
		return ledger.Account{}, fmt.Errorf("empty user id: %w", ledger.ErrValidation)
	}
	if id, ok := m.byUser[userID]; ok {
		return m.accounts[id], nil
	}
	if name == "" {
		name = "Wallet " + userID
	}
	a := ledger.Account{ID: uuid.New(), Type: ledger.AccountUser, UserID: userID, Name: name, Active: true}
	m.accounts[a.ID] = a
	m.byUser[userID] = a.ID
	return a, nil
}

// Deactivate flips an account inactive, hiding it from new movements.
func (m *Memory) Deactivate(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.Active = false
	m.accounts[id] = a
}

// SetBalance seeds the balance cache directly (e.g. funding the treasury).
func (m *Memory) SetBalance(accountID, assetID uuid.UUID, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balKey{accountID, assetID}] = balanceRow{Balance: balance, UpdatedAt: time.Now().UTC()}
}

// InjectLockFailures makes the next n LockAccounts calls fail with err.
func (m *Memory) InjectLockFailures(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockFailures = n
	m.lockErr = err
}

// BalanceOf reads the cached balance, zero when absent.
func (m *Memory) BalanceOf(accountID, assetID uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balKey{accountID, assetID}].Balance
}

// TransactionCount reports committed headers.
func (m *Memory) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// TransactionByKey returns the committed header under an idempotency key.
func (m *Memory) TransactionByKey(key string) (ledger.TransactionHeader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.txByKey[key]
	if !ok {
		return ledger.TransactionHeader{}, false
	}
	return m.transactions[id], true
}

// EntriesByTransaction returns the entries referencing a header.
func (m *Memory) EntriesByTransaction(txID uuid.UUID) []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for _, e := range m.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out
}

// EntryCount reports committed entries.
func (m *Memory) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AuditCount reports audit-log records.
func (m *Memory) AuditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audits)
}

// ExpireIdempotency backdates a record so lookups treat it as absent.
func (m *Memory) ExpireIdempotency(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idempotency[key]; ok {
		rec.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		m.idempotency[key] = rec
	}
}

// =============================================================================
// STORE - Pool-scoped reads
// =============================================================================

func (m *Memory) AssetByCode(_ context.Context, code string) (ledger.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[code]
	if !ok || !a.Active {
		return ledger.Asset{}, fmt.Errorf("asset %q: %w", code, ledger.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) UserAccount(_ context.Context, userID string) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAccountLocked(userID)
}

func (m *Memory) userAccountLocked(userID string) (ledger.Account, error) {
	id, ok := m.byUser[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("user %q: %w", userID, ledger.ErrNotFound)
	}
	a := m.accounts[id]
	if !a.Active {
		return ledger.Account{}, fmt.Errorf("user %q: %w", userID, ledger.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) SystemAccount(_ context.Context, accountType ledger.AccountType) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byType[accountType]
	if !ok {
		return ledger.Account{}, fmt.Errorf("system account %s: %w", accountType, ledger.ErrNotFound)
	}
	a := m.accounts[id]
	if !a.Active {
		return ledger.Account{}, fmt.Errorf("system account %s: %w", accountType, ledger.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) IdempotencyLookup(_ context.Context, key string) (*ledger.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (m *Memory) UserBalance(_ context.Context, userID, assetCode string) (ledger.BalanceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetCode]
	if !ok || !a.Active {
		return ledger.BalanceView{}, fmt.Errorf("asset %q: %w", assetCode, ledger.ErrNotFound)
	}
	view := ledger.BalanceView{AssetCode: a.Code, AssetName: a.Name, Balance: decimal.Zero}
	if accID, ok := m.byUser[userID]; ok {
		view.Balance = m.balances[balKey{accID, a.ID}].Balance
	}
	return view, nil
}

func (m *Memory) UserBalances(_ context.Context, userID string) ([]ledger.BalanceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, 0, len(m.assets))
	for code, a := range m.assets {
		if a.Active {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	accID, hasAccount := m.byUser[userID]
	views := make([]ledger.BalanceView, 0, len(codes))
	for _, code := range codes {
		a := m.assets[code]
		v := ledger.BalanceView{AssetCode: a.Code, AssetName: a.Name, Balance: decimal.Zero}
		if hasAccount {
			v.Balance = m.balances[balKey{accID, a.ID}].Balance
		}
		views = append(views, v)
	}
	return views, nil
}

func (m *Memory) UserHistory(_ context.Context, userID string, limit, offset int) ([]ledger.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accID, ok := m.byUser[userID]
	if !ok {
		return nil, nil
	}

	assetCodes := make(map[uuid.UUID]string, len(m.assets))
	for _, a := range m.assets {
		assetCodes[a.ID] = a.Code
	}

	var all []ledger.HistoryEntry
	for _, e := range m.entries {
		if e.AccountID != accID {
			continue
		}
		h := m.transactions[e.TransactionID]
		all = append(all, ledger.HistoryEntry{
			EntryID:        e.ID,
			TransactionID:  e.TransactionID,
			Type:           h.Type,
			Status:         h.Status,
			AssetCode:      assetCodes[e.AssetID],
			EntryType:      e.Type,
			Amount:         e.Amount,
			RunningBalance: e.RunningBalance,
			Description:    e.Description,
			Metadata:       h.Metadata,
			CreatedAt:      h.CreatedAt,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot, run, commit-or-restore
// =============================================================================

// RunSerializable holds the store lock for the duration of fn and restores
// the pre-transaction snapshot when fn fails.
func (m *Memory) RunSerializable(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := m.snapshotLocked()
	if err := fn(&txView{m: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type snapshot struct {
	transactions map[uuid.UUID]ledger.TransactionHeader
	txByKey      map[string]uuid.UUID
	entries      []ledger.Entry
	balances     map[balKey]balanceRow
	idempotency  map[string]ledger.IdempotencyRecord
	audits       []ledger.AuditRecord
}

func (m *Memory) snapshotLocked() snapshot {
	s := snapshot{
		transactions: make(map[uuid.UUID]ledger.TransactionHeader, len(m.transactions)),
		txByKey:      make(map[string]uuid.UUID, len(m.txByKey)),
		entries:      append([]ledger.Entry(nil), m.entries...),
		balances:     make(map[balKey]balanceRow, len(m.balances)),
		idempotency:  make(map[string]ledger.IdempotencyRecord, len(m.idempotency)),
		audits:       append([]ledger.AuditRecord(nil), m.audits...),
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.txByKey {
		s.txByKey[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s snapshot) {
	m.transactions = s.transactions
	m.txByKey = s.txByKey
	m.entries = s.entries
	m.balances = s.balances
	m.idempotency = s.idempotency
	m.audits = s.audits
}

// =============================================================================
// TX - Write surface inside RunSerializable
// =============================================================================

type txView struct {
	m *Memory
}

func (t *txView) LockAccounts(_ context.Context, ids ...uuid.UUID) error {
	m := t.m
	if m.lockFailures > 0 {
		m.lockFailures--
		return m.lockErr
	}
	for _, id := range ids {
		if _, ok := m.accounts[id]; !ok {
			return fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
		}
	}
	return nil
}

func (t *txView) CachedBalance(_ context.Context, accountID, assetID uuid.UUID) (decimal.Decimal, error) {
	return t.m.balances[balKey{accountID, assetID}].Balance, nil
}

func (t *txView) InsertTransaction(_ context.Context, h ledger.TransactionHeader) error {
	m := t.m
	if _, exists := m.txByKey[h.IdempotencyKey]; exists {
		return fmt.Errorf("duplicate idempotency key %q: %w", h.IdempotencyKey, ledger.ErrUniqueViolation)
	}
	m.transactions[h.ID] = h
	m.txByKey[h.IdempotencyKey] = h.ID
	return nil
}

func (t *txView) InsertEntry(_ context.Context, e ledger.Entry) error {
	for _, existing := range t.m.entries {
		if existing.TransactionID == e.TransactionID && existing.Type == e.Type {
			return fmt.Errorf("duplicate %s entry for transaction: %w", e.Type, ledger.ErrUniqueViolation)
		}
	}
	t.m.entries = append(t.m.entries, e)
	return nil
}

func (t *txView) UpsertBalance(_ context.Context, accountID, assetID uuid.UUID, balance decimal.Decimal, lastTransactionID uuid.UUID, at time.Time) error {
	if balance.IsNegative() {
		return fmt.Errorf("balance below zero: %w", ledger.ErrCheckViolation)
	}
	t.m.balances[balKey{accountID, assetID}] = balanceRow{
		Balance:           balance,
		LastTransactionID: lastTransactionID,
		UpdatedAt:         at,
	}
	return nil
}

func (t *txView) InsertAudit(_ context.Context, rec ledger.AuditRecord) error {
	t.m.audits = append(t.m.audits, rec)
	return nil
}

func (t *txView) InsertIdempotency(_ context.Context, rec ledger.IdempotencyRecord) error {
	if _, exists := t.m.idempotency[rec.Key]; exists {
		return fmt.Errorf("duplicate idempotency record %q: %w", rec.Key, ledger.ErrUniqueViolation)
	}
	t.m.idempotency[rec.Key] = rec
	return nil
}
