/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP semantics; the engine maps the
  business-rule subset onto Failed transactions.

ERROR CATEGORIES:
  1. Validation errors - Malformed requests, rejected before any persistence
  2. NotFound errors   - Missing accounts or transactions
  3. BusinessRule errors - Invariant violations caught inside the locked
     storage transaction; recorded on the Failed transaction
  4. Concurrency errors - Optimistic-lock conflicts and reference races,
     recovered locally

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) {
      // business failure: transaction persisted as Failed
  }

SEE ALSO:
  - account.go: Raises the business-rule errors
  - engine.go: Classifies errors into the failure model
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidOperation is returned for an operation outside the fixed vocabulary.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidAmount is returned for a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidReference is returned for an empty client reference id.
	ErrInvalidReference = errors.New("reference id required")

	// ErrMissingTarget is returned when a transfer lacks a target account.
	ErrMissingTarget = errors.New("transfer requires target account")

	// ErrMissingOriginal is returned when a reversal lacks an original transaction id.
	ErrMissingOriginal = errors.New("reversal requires original transaction id")

	// ErrAccountNotFound is returned when an opaque account id lookup misses.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTargetNotFound is returned when a transfer target lookup misses.
	ErrTargetNotFound = errors.New("target account not found")

	// ErrTransactionNotFound is returned when a transaction id lookup misses.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotActive is returned for any mutation on a suspended or closed account.
	ErrAccountNotActive = errors.New("account is not active")

	// ErrInsufficientFunds is returned when a debit exceeds available balance plus credit limit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientAvailable is returned when a reserve exceeds available balance.
	ErrInsufficientAvailable = errors.New("insufficient available balance")

	// ErrInsufficientReserved is returned when a capture exceeds the reserved balance.
	ErrInsufficientReserved = errors.New("insufficient reserved balance")

	// ErrInvalidReservation is returned when a release exceeds the reserved balance.
	ErrInvalidReservation = errors.New("invalid reservation release")

	// ErrNonReversible is returned when the original transaction cannot be reversed.
	ErrNonReversible = errors.New("transaction is not reversible")

	// ErrAlreadyReversed is returned when the original transaction was already reversed.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrInvalidTransition is returned for an illegal transaction status transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateReference is returned by stores when the unique reference
	// constraint rejects an insert. This is expected behavior for retries.
	ErrDuplicateReference = errors.New("duplicate reference id")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a stale account version at write time.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBusClosed is returned when publishing to a shut-down event bus.
	ErrBusClosed = errors.New("event bus closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a debit capacity shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Capacity  Money // available balance + credit limit
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: capacity %s, requested %s (account %s)",
		e.Capacity, e.Requested, e.AccountID)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientAvailableError reports an available-balance shortage for Reserve.
type InsufficientAvailableError struct {
	AccountID AccountID
	Available Money
	Requested Money
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available balance: available %s, requested %s (account %s)",
		e.Available, e.Requested, e.AccountID)
}

func (e *InsufficientAvailableError) Unwrap() error { return ErrInsufficientAvailable }

// InsufficientReservedError reports a reserved-balance shortage for Capture.
type InsufficientReservedError struct {
	AccountID AccountID
	Reserved  Money
	Requested Money
}

func (e *InsufficientReservedError) Error() string {
	return fmt.Sprintf("insufficient reserved balance: reserved %s, requested %s (account %s)",
		e.Reserved, e.Requested, e.AccountID)
}

func (e *InsufficientReservedError) Unwrap() error { return ErrInsufficientReserved }

// TransitionError reports an illegal transaction status transition.
type TransitionError struct {
	TransactionID TransactionID
	From          TransactionStatus
	To            TransactionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (transaction %s)", e.From, e.To, e.TransactionID)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to a malformed request.
// Validation failures happen before any persistence.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrMissingTarget) ||
		errors.Is(err, ErrMissingOriginal)
}

// IsNotFound returns true if the error indicates a missing account or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsBusinessRule returns true for invariant violations that produce a
// Failed transaction rather than an HTTP error.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientAvailable) ||
		errors.Is(err, ErrInsufficientReserved) ||
		errors.Is(err, ErrInvalidReservation) ||
		errors.Is(err, ErrAccountNotActive) ||
		errors.Is(err, ErrNonReversible) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
