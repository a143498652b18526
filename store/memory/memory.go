// Package memory provides an in-memory TxStore implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	accounts     map[ledger.AccountID]*ledger.Account
	byExternal   map[string]ledger.AccountID
	transactions map[ledger.TransactionID]*ledger.Transaction
	byReference  map[string]ledger.TransactionID
}

func New() *Store {
	return &Store{
		accounts:     make(map[ledger.AccountID]*ledger.Account),
		byExternal:   make(map[string]ledger.AccountID),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction),
		byReference:  make(map[string]ledger.TransactionID),
	}
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (m *Store) CreateAccount(_ context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Store) createAccountLocked(a *ledger.Account) error {
	if a.ExternalID != "" {
		if _, exists := m.byExternal[a.ExternalID]; exists {
			return ledger.ErrDuplicateReference
		}
	}
	cp := *a
	cp.Version = 1
	m.accounts[a.ID] = &cp
	if a.ExternalID != "" {
		m.byExternal[a.ExternalID] = a.ID
	}
	a.Version = 1
	return nil
}

func (m *Store) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Store) getAccountLocked(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Store) GetAccountByExternalID(_ context.Context, externalID string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return m.getAccountLocked(id)
}

func (m *Store) UpdateAccount(_ context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountLocked(a)
}

func (m *Store) updateAccountLocked(a *ledger.Account) error {
	stored, ok := m.accounts[a.ID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if stored.Version != a.Version {
		return ledger.ErrConcurrentModification
	}
	cp := *a
	cp.Version = a.Version + 1
	m.accounts[a.ID] = &cp
	a.Version = cp.Version
	return nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func (m *Store) CreateTransaction(_ context.Context, t *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransactionLocked(t)
}

func (m *Store) createTransactionLocked(t *ledger.Transaction) error {
	if _, exists := m.byReference[t.ReferenceID]; exists {
		return ledger.ErrDuplicateReference
	}
	cp := *t
	m.transactions[t.ID] = &cp
	m.byReference[t.ReferenceID] = t.ID
	return nil
}

func (m *Store) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Store) getTransactionLocked(id ledger.TransactionID) (*ledger.Transaction, error) {
	t, ok := m.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) GetTransactionByReference(_ context.Context, referenceID string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byReference[referenceID]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return m.getTransactionLocked(id)
}

func (m *Store) UpdateTransaction(_ context.Context, t *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionLocked(t)
}

func (m *Store) updateTransactionLocked(t *ledger.Transaction) error {
	if _, ok := m.transactions[t.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *Store) ListTransactions(_ context.Context, accountID ledger.AccountID) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ledger.Transaction
	for _, t := range m.transactions {
		if t.AccountID == accountID || t.TargetAccountID == accountID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return strings.Compare(string(result[i].ID), string(result[j].ID)) < 0
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Store) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ledger.Transaction
	for _, t := range m.transactions {
		if t.Status == ledger.StatusPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE - Snapshot + rollback
// =============================================================================

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot restored on error. The store mutex is held
// for the duration, which is acceptable for tests and dev.
func (m *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	accounts     map[ledger.AccountID]*ledger.Account
	byExternal   map[string]ledger.AccountID
	transactions map[ledger.TransactionID]*ledger.Transaction
	byReference  map[string]ledger.TransactionID
}

func (m *Store) snapshot() snapshot {
	s := snapshot{
		accounts:     make(map[ledger.AccountID]*ledger.Account, len(m.accounts)),
		byExternal:   make(map[string]ledger.AccountID, len(m.byExternal)),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction, len(m.transactions)),
		byReference:  make(map[string]ledger.TransactionID, len(m.byReference)),
	}
	for k, v := range m.accounts {
		cp := *v
		s.accounts[k] = &cp
	}
	for k, v := range m.byExternal {
		s.byExternal[k] = v
	}
	for k, v := range m.transactions {
		cp := *v
		s.transactions[k] = &cp
	}
	for k, v := range m.byReference {
		s.byReference[k] = v
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.accounts = s.accounts
	m.byExternal = s.byExternal
	m.transactions = s.transactions
	m.byReference = s.byReference
}

// txView routes Store calls to the locked parent methods.
type txView struct {
	parent *Store
}

func (v *txView) CreateAccount(_ context.Context, a *ledger.Account) error {
	return v.parent.createAccountLocked(a)
}

func (v *txView) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.parent.getAccountLocked(id)
}

func (v *txView) GetAccountByExternalID(_ context.Context, externalID string) (*ledger.Account, error) {
	id, ok := v.parent.byExternal[externalID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return v.parent.getAccountLocked(id)
}

func (v *txView) UpdateAccount(_ context.Context, a *ledger.Account) error {
	return v.parent.updateAccountLocked(a)
}

func (v *txView) CreateTransaction(_ context.Context, t *ledger.Transaction) error {
	return v.parent.createTransactionLocked(t)
}

func (v *txView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.parent.getTransactionLocked(id)
}

func (v *txView) GetTransactionByReference(_ context.Context, referenceID string) (*ledger.Transaction, error) {
	id, ok := v.parent.byReference[referenceID]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return v.parent.getTransactionLocked(id)
}

func (v *txView) UpdateTransaction(_ context.Context, t *ledger.Transaction) error {
	return v.parent.updateTransactionLocked(t)
}

func (v *txView) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*ledger.Transaction, error) {
	var result []*ledger.Transaction
	for _, t := range v.parent.transactions {
		if t.AccountID == accountID || t.TargetAccountID == accountID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (v *txView) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*ledger.Transaction, error) {
	var result []*ledger.Transaction
	for _, t := range v.parent.transactions {
		if t.Status == ledger.StatusPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}
