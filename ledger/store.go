/*
store.go - Persistence interface for accounts and transactions

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage; the engine only
  sees this contract.

KEY INTERFACES:
  Store:   Account and transaction reads and writes
  TxStore: Store plus WithTx for atomic multi-row commits

OPTIMISTIC CONCURRENCY:
  UpdateAccount carries the Version read from the store. If the stored
  version no longer matches, the write fails with
  ErrConcurrentModification and nothing is applied. The per-account lock
  makes this a second line of defense, not the primary serialization.

IDEMPOTENCY:
  CreateTransaction enforces a unique index on ReferenceID. A duplicate
  insert fails with ErrDuplicateReference; the caller re-reads the
  winner and returns its projection.

IMPLEMENTATIONS:
  - store/sqlite:  Production SQLite
  - store/memory:  In-memory for testing

SEE ALSO:
  - engine.go: The only consumer
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Account and transaction persistence
// =============================================================================

type Store interface {
	// CreateAccount persists a fresh account at version 1.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount loads an account by opaque id. Missing -> ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// GetAccountByExternalID loads an account by its external identity.
	// Missing -> ErrAccountNotFound.
	GetAccountByExternalID(ctx context.Context, externalID string) (*Account, error)

	// UpdateAccount persists a mutated account. The write carries a.Version
	// from the read; a stale version fails with ErrConcurrentModification.
	// On success a.Version is advanced.
	UpdateAccount(ctx context.Context, a *Account) error

	// CreateTransaction persists a transaction. A duplicate ReferenceID
	// fails with ErrDuplicateReference.
	CreateTransaction(ctx context.Context, t *Transaction) error

	// GetTransaction loads a transaction by id. Missing -> ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// GetTransactionByReference loads a transaction by client reference.
	// Missing -> ErrTransactionNotFound.
	GetTransactionByReference(ctx context.Context, referenceID string) (*Transaction, error)

	// UpdateTransaction persists a status transition.
	UpdateTransaction(ctx context.Context, t *Transaction) error

	// ListTransactions returns an account's transactions, newest first.
	ListTransactions(ctx context.Context, accountID AccountID) ([]*Transaction, error)

	// ListPendingBefore returns Pending transactions created before the
	// cutoff. Used by the stranded-transaction sweep.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Transaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-row commits
// =============================================================================

// TxStore wraps Store with storage-transaction support.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// If fn returns an error the transaction is rolled back and nothing
	// fn wrote is visible; otherwise it is committed atomically.
	WithTx(ctx context.Context, fn func(Store) error) error
}
