/*
engine.go - Transaction processing orchestration

PURPOSE:
  The Engine turns an inbound request into a durable balance mutation:

    resolve account -> idempotency check -> persist Pending record ->
    acquire ordered locks -> storage tx (reload, apply, persist) ->
    commit or rollback -> publish event -> return projection

FAILURE MODEL:
  - Validation / NotFound: synchronous error, no transaction record
  - Business rule (insufficient funds, not active, ...): the storage tx
    is rolled back, the transaction is persisted as Failed with the
    error message, a failed event is published, and the caller receives
    a normal result with status "failed"
  - Concurrency: optimistic conflicts are retried under the lock;
    duplicate-reference races re-read the winner
  - Infrastructure: propagated; the Pending record remains and is
    recovered by SweepStranded

IDEMPOTENCY:
  The Pending record is committed on its own before any locking, so the
  client reference is globally visible even if later steps fail. A
  replayed reference returns the prior transaction's outcome with the
  account's current balances.

SEE ALSO:
  - account.go: Per-operation invariants
  - locks.go: Canonical-order acquisition
  - store.go: Storage contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is a parsed inbound operation. Amount is integer minor units.
type Request struct {
	Operation             string
	AccountID             string // opaque id or external identity
	Amount                Money
	Currency              string
	ReferenceID           string
	TargetAccountID       string
	OriginalTransactionID string
	Metadata              string
}

// Result is the post-operation projection returned to the caller.
type Result struct {
	Transaction *Transaction
	Account     *Account // post-op state of the primary account
	Replayed    bool     // true when an existing reference was returned
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   TxStore
	locks   *LockManager
	bus     *EventBus
	log     *zap.Logger
	retries int // attempts on optimistic-concurrency conflict
}

func NewEngine(store TxStore, locks *LockManager, bus *EventBus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, locks: locks, bus: bus, log: log, retries: 3}
}

// Store exposes read access for the API layer.
func (e *Engine) Store() TxStore { return e.store }

// CreateAccount provisions a fresh Active account.
func (e *Engine) CreateAccount(ctx context.Context, externalID string, creditLimit Money) (*Account, error) {
	if creditLimit.IsNegative() {
		return nil, fmt.Errorf("%w: credit limit must not be negative", ErrInvalidAmount)
	}
	a := NewAccount(AccountID(uuid.NewString()), externalID, creditLimit)
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Process applies one money-movement request with exactly-once semantics
// on the client reference.
func (e *Engine) Process(ctx context.Context, req Request) (*Result, error) {
	if req.ReferenceID == "" {
		return nil, ErrInvalidReference
	}
	op, err := ParseOperation(req.Operation)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	account, err := e.resolveAccount(ctx, req.AccountID, true)
	if err != nil {
		return nil, err
	}

	// Idempotency short-circuit before any work.
	if prior, err := e.store.GetTransactionByReference(ctx, req.ReferenceID); err == nil {
		return e.replay(ctx, prior)
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	var target *Account
	if op == OpTransfer {
		if req.TargetAccountID == "" {
			return nil, ErrMissingTarget
		}
		target, err = e.resolveAccount(ctx, req.TargetAccountID, false)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, ErrTargetNotFound
			}
			return nil, err
		}
	}

	var original *Transaction
	if op == OpReversal {
		if req.OriginalTransactionID == "" {
			return nil, ErrMissingOriginal
		}
		original, err = e.store.GetTransaction(ctx, TransactionID(req.OriginalTransactionID))
		if err != nil {
			return nil, err
		}
	}

	txn, err := NewTransaction(TransactionID(uuid.NewString()), req.ReferenceID, op, req.Amount, account.ID)
	if err != nil {
		return nil, err
	}
	txn.Currency = req.Currency
	txn.Metadata = req.Metadata
	if target != nil {
		txn.TargetAccountID = target.ID
	}
	if original != nil {
		txn.OriginalTransactionID = original.ID
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	// Commit the Pending record on its own so the reference is globally
	// visible even if the locked commit never happens. A lost race on the
	// unique reference index means another request won: return its outcome.
	if err := e.store.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			winner, rerr := e.store.GetTransactionByReference(ctx, req.ReferenceID)
			if rerr != nil {
				return nil, rerr
			}
			return e.replay(ctx, winner)
		}
		return nil, err
	}

	lockSet := []AccountID{account.ID}
	if target != nil {
		lockSet = append(lockSet, target.ID)
	}
	if original != nil {
		// Reversal mutates the original transaction's accounts; a reversal
		// of a transfer locks both legs.
		lockSet = append(lockSet, original.AccountID, original.TargetAccountID)
	}

	result, err := e.applyLocked(ctx, txn, lockSet)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay projects a prior transaction with the account's current balances.
func (e *Engine) replay(ctx context.Context, prior *Transaction) (*Result, error) {
	account, err := e.store.GetAccount(ctx, prior.AccountID)
	if err != nil {
		return nil, err
	}
	return &Result{Transaction: prior, Account: account, Replayed: true}, nil
}

// resolveAccount loads by opaque id when the identifier parses as a UUID,
// otherwise by external identity. External misses create a fresh Active
// account with a zero credit limit when create is set.
func (e *Engine) resolveAccount(ctx context.Context, id string, create bool) (*Account, error) {
	if id == "" {
		return nil, ErrAccountNotFound
	}
	if _, err := uuid.Parse(id); err == nil {
		return e.store.GetAccount(ctx, AccountID(id))
	}
	a, err := e.store.GetAccountByExternalID(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) || !create {
		return nil, err
	}
	a = NewAccount(AccountID(uuid.NewString()), id, 0)
	if cerr := e.store.CreateAccount(ctx, a); cerr != nil {
		return nil, cerr
	}
	e.log.Info("auto-created account for external identity",
		zap.String("account_id", string(a.ID)), zap.String("external_id", id))
	return a, nil
}

// =============================================================================
// LOCKED COMMIT
// =============================================================================

// applyLocked runs the balance mutation under the ordered lock set inside
// a single storage transaction. Business failures roll back, mark the
// transaction Failed outside the rolled-back tx, and still produce a result.
func (e *Engine) applyLocked(ctx context.Context, txn *Transaction, lockSet []AccountID) (*Result, error) {
	var projected *Account

	err := e.locks.WithLock(ctx, lockSet, func() error {
		var lastErr error
		for attempt := 0; attempt < e.retries; attempt++ {
			lastErr = e.store.WithTx(ctx, func(s Store) error {
				a, err := e.applyTx(ctx, s, txn)
				if err != nil {
					return err
				}
				projected = a
				return nil
			})
			if lastErr == nil || !IsRetryable(lastErr) {
				return lastErr
			}
			e.log.Warn("optimistic conflict, retrying",
				zap.String("transaction_id", string(txn.ID)), zap.Int("attempt", attempt+1))
		}
		return lastErr
	})

	if err == nil {
		e.publish(txn)
		return &Result{Transaction: txn, Account: projected}, nil
	}

	if IsBusinessRule(err) {
		if ferr := txn.MarkFailed(err.Error()); ferr != nil {
			return nil, ferr
		}
		if uerr := e.store.UpdateTransaction(ctx, txn); uerr != nil {
			return nil, uerr
		}
		e.publish(txn)
		account, aerr := e.store.GetAccount(ctx, txn.AccountID)
		if aerr != nil {
			return nil, aerr
		}
		return &Result{Transaction: txn, Account: account}, nil
	}

	// Infrastructure or cancellation: the record stays Pending and is
	// recovered by the sweep.
	return nil, err
}

// applyTx reloads the affected accounts inside the storage transaction,
// applies the per-operation effect, and persists accounts plus the
// Completed transaction. Returns the primary account for projection.
func (e *Engine) applyTx(ctx context.Context, s Store, txn *Transaction) (*Account, error) {
	account, err := s.GetAccount(ctx, txn.AccountID)
	if err != nil {
		return nil, err
	}

	switch txn.Operation {
	case OpCredit:
		err = account.AddCredit(txn.Amount)
	case OpDebit:
		err = account.Debit(txn.Amount)
	case OpReserve:
		err = account.Reserve(txn.Amount)
	case OpCapture:
		err = account.Capture(txn.Amount)
	case OpTransfer:
		if txn.TargetAccountID == txn.AccountID {
			// Self-transfer: both legs land on the same row, one write.
			if err = account.Debit(txn.Amount); err == nil {
				err = account.AddCredit(txn.Amount)
			}
			break
		}
		target, terr := s.GetAccount(ctx, txn.TargetAccountID)
		if terr != nil {
			return nil, terr
		}
		if err = account.Debit(txn.Amount); err == nil {
			if err = target.AddCredit(txn.Amount); err == nil {
				err = s.UpdateAccount(ctx, target)
			}
		}
	case OpReversal:
		account, err = e.applyReversal(ctx, s, txn)
	default:
		return nil, ErrInvalidOperation
	}
	if err != nil {
		return nil, err
	}

	if txn.Operation != OpReversal {
		if err := s.UpdateAccount(ctx, account); err != nil {
			return nil, err
		}
	}
	if err := txn.MarkCompleted(); err != nil {
		return nil, err
	}
	if err := s.UpdateTransaction(ctx, txn); err != nil {
		txn.Status = StatusPending // keep in-memory state consistent with the rollback
		return nil, err
	}
	return account, nil
}

// applyReversal inverts the effect of a Completed original transaction on
// its accounts and marks the original Reversed, all inside the same
// storage transaction. The reversal amount is the original's amount.
func (e *Engine) applyReversal(ctx context.Context, s Store, txn *Transaction) (*Account, error) {
	original, err := s.GetTransaction(ctx, txn.OriginalTransactionID)
	if err != nil {
		return nil, err
	}
	if original.Status == StatusReversed {
		return nil, ErrAlreadyReversed
	}
	if original.Status != StatusCompleted || original.Operation == OpReversal {
		return nil, ErrNonReversible
	}

	amount := original.Amount
	account, err := s.GetAccount(ctx, original.AccountID)
	if err != nil {
		return nil, err
	}

	switch original.Operation {
	case OpCredit:
		err = account.Debit(amount)
	case OpDebit:
		err = account.AddCredit(amount)
	case OpReserve:
		err = account.ReleaseReservation(amount)
	case OpCapture:
		// Restore both balance and the prior reservation.
		if err = account.AddCredit(amount); err == nil {
			err = account.Reserve(amount)
		}
	case OpTransfer:
		if original.TargetAccountID == original.AccountID {
			// Self-transfer reversal mirrors the single-row forward leg.
			if err = account.Debit(amount); err == nil {
				err = account.AddCredit(amount)
			}
			break
		}
		target, terr := s.GetAccount(ctx, original.TargetAccountID)
		if terr != nil {
			return nil, terr
		}
		if err = target.Debit(amount); err == nil {
			if err = account.AddCredit(amount); err == nil {
				err = s.UpdateAccount(ctx, target)
			}
		}
	default:
		err = ErrNonReversible
	}
	if err != nil {
		return nil, err
	}

	if err := s.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := original.MarkReversed(); err != nil {
		return nil, err
	}
	if err := s.UpdateTransaction(ctx, original); err != nil {
		return nil, err
	}
	return account, nil
}

func (e *Engine) publish(txn *Transaction) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(Event{
		Type:          EventTransactionProcessed,
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		Operation:     txn.Operation,
		Amount:        txn.Amount,
		Status:        txn.Status,
		Error:         txn.ErrorMessage,
	})
	if err != nil {
		e.log.Warn("event publish failed", zap.String("transaction_id", string(txn.ID)), zap.Error(err))
	}
}

// =============================================================================
// STRANDED TRANSACTION SWEEP
// =============================================================================

// SweepStranded fails Pending transactions older than maxAge. A record
// still Pending never moved funds: completion happens in the same storage
// transaction as the balance mutation, so failing it is safe. Returns the
// number of transactions swept.
func (e *Engine) SweepStranded(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stranded, err := e.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, txn := range stranded {
		if err := txn.MarkFailed("stranded: interrupted before commit"); err != nil {
			continue // raced with a concurrent completion
		}
		if err := e.store.UpdateTransaction(ctx, txn); err != nil {
			e.log.Error("sweep update failed", zap.String("transaction_id", string(txn.ID)), zap.Error(err))
			continue
		}
		e.publish(txn)
		swept++
	}
	if swept > 0 {
		e.log.Info("swept stranded transactions", zap.Int("count", swept))
	}
	return swept, nil
}
