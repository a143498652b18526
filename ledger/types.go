/*
Package ledger provides the core transaction-processing engine.

PURPOSE:
  This package contains the domain types and algorithms for processing
  money-movement operations against accounts with strict correctness
  under concurrency: exactly-once application of client references,
  atomic multi-account updates, and a well-defined failure model.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount in integer minor units (cents)
  - OperationType: The fixed vocabulary of money operations
  - AccountStatus / TransactionStatus: Lifecycle enums
  - AccountID / TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Integer arithmetic: Money is int64 minor units everywhere inside
     the engine; decimal conversion happens only at display boundaries
  2. Immutability: Terminal transactions are never edited, only reversed
  3. Type Safety: Strong typing for IDs prevents mixing account and
     transaction identifiers
  4. Idempotency: Every request carries a client reference applied
     at most once

USAGE:
  amount := ledger.Money(5000) // 50.00 in minor units
  op, err := ledger.ParseOperation("transfer")

SEE ALSO:
  - account.go: Account aggregate and balance invariants
  - transaction.go: Transaction record and state transitions
  - engine.go: Request orchestration
*/
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor units (cents)
// =============================================================================

// Money is an amount in integer minor units. All engine arithmetic is
// integer; decimal appears only when formatting for humans.
type Money int64

// MoneyFromDecimal converts a major-unit decimal (e.g. "50.00") to minor units.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).IntPart())
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }

// String formats the amount in major units with two decimal places.
func (m Money) String() string { return m.Decimal().StringFixed(2) }

func (m Money) IsPositive() bool         { return m > 0 }
func (m Money) IsNegative() bool         { return m < 0 }
func (m Money) Add(o Money) Money        { return m + o }
func (m Money) Sub(o Money) Money        { return m - o }
func (m Money) GreaterThan(o Money) bool { return m > o }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// OPERATION TYPE - Fixed vocabulary of money operations
// =============================================================================

type OperationType string

const (
	OpCredit   OperationType = "credit"   // balance += amount
	OpDebit    OperationType = "debit"    // balance -= amount (within credit limit)
	OpReserve  OperationType = "reserve"  // hold against future capture
	OpCapture  OperationType = "capture"  // convert reservation into a debit
	OpTransfer OperationType = "transfer" // atomic debit + credit across two accounts
	OpReversal OperationType = "reversal" // undo a prior completed transaction
)

// ParseOperation maps a wire operation string (case-insensitive) to its
// OperationType. Unknown operations fail with ErrInvalidOperation.
func ParseOperation(s string) (OperationType, error) {
	switch OperationType(strings.ToLower(strings.TrimSpace(s))) {
	case OpCredit:
		return OpCredit, nil
	case OpDebit:
		return OpDebit, nil
	case OpReserve:
		return OpReserve, nil
	case OpCapture:
		return OpCapture, nil
	case OpTransfer:
		return OpTransfer, nil
	case OpReversal:
		return OpReversal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
}

// =============================================================================
// STATUS ENUMS
// =============================================================================

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

// ResultStatus maps a transaction status to its wire projection.
// Reversed projects as "success": the original request did succeed;
// the reversal is a separate transaction.
func ResultStatus(s TransactionStatus) string {
	switch s {
	case StatusCompleted, StatusReversed:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}
