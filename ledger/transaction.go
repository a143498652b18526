/*
transaction.go - Transaction record and lifecycle

PURPOSE:
  A Transaction is the record of one client request and its outcome.
  It carries the client reference id (the idempotency key), the
  operation, amounts, linkage for transfers and reversals, and a status
  that moves through a fixed lifecycle.

LIFECYCLE:
  Pending -> Completed   (engine commits the balance mutation)
  Pending -> Failed      (engine rolls back; error message recorded)
  Completed -> Reversed  (a Reversal transaction targeting it completes)

  Failed and Reversed are terminal. No other transitions are legal.

CORRECTIONS:
  Terminal transactions are never edited. A mistake is undone by a new
  Reversal transaction; both records remain in the ledger.

SEE ALSO:
  - engine.go: Drives the lifecycle
  - store.go: Persists transactions with a unique reference index
*/
package ledger

import "time"

// =============================================================================
// TRANSACTION - Request + outcome record
// =============================================================================

type Transaction struct {
	ID                    TransactionID
	ReferenceID           string // client-chosen, globally unique
	Operation             OperationType
	Amount                Money
	Currency              string // echoed, never converted
	AccountID             AccountID
	TargetAccountID       AccountID     // transfers only
	OriginalTransactionID TransactionID // reversals only
	Metadata              string
	Status                TransactionStatus
	ErrorMessage          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewTransaction builds a Pending transaction, validating the request shape:
// non-empty reference, positive amount, transfer linkage, reversal linkage.
func NewTransaction(id TransactionID, referenceID string, op OperationType, amount Money, accountID AccountID) (*Transaction, error) {
	if referenceID == "" {
		return nil, ErrInvalidReference
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Transaction{
		ID:          id,
		ReferenceID: referenceID,
		Operation:   op,
		Amount:      amount,
		AccountID:   accountID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate re-checks the linkage invariants after the optional fields are set.
func (t *Transaction) Validate() error {
	if t.Operation == OpTransfer && t.TargetAccountID == "" {
		return ErrMissingTarget
	}
	if t.Operation == OpReversal && t.OriginalTransactionID == "" {
		return ErrMissingOriginal
	}
	return nil
}

// MarkCompleted transitions Pending -> Completed.
func (t *Transaction) MarkCompleted() error {
	if t.Status != StatusPending {
		return &TransitionError{TransactionID: t.ID, From: t.Status, To: StatusCompleted}
	}
	t.Status = StatusCompleted
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions Pending -> Failed, recording the reason.
func (t *Transaction) MarkFailed(reason string) error {
	if t.Status != StatusPending {
		return &TransitionError{TransactionID: t.ID, From: t.Status, To: StatusFailed}
	}
	t.Status = StatusFailed
	t.ErrorMessage = reason
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkReversed transitions Completed -> Reversed.
func (t *Transaction) MarkReversed() error {
	if t.Status != StatusCompleted {
		return &TransitionError{TransactionID: t.ID, From: t.Status, To: StatusReversed}
	}
	t.Status = StatusReversed
	t.UpdatedAt = time.Now().UTC()
	return nil
}
