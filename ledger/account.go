/*
account.go - Account aggregate and balance invariants

PURPOSE:
  The Account holds balance, reserved balance and credit limit, and
  enforces the money invariants on every operation. It is pure in-memory
  state: persistence lives behind the Store interface, and the engine
  serializes access with per-account locks.

CRITICAL INVARIANTS (hold after every successful operation):
  1. ReservedBalance >= 0
  2. Balance + CreditLimit - ReservedBalance >= 0
     (debit capacity never goes negative)
  3. Available >= 0 whenever Balance >= 0; a debit may drive the balance
     negative only within CreditLimit
  4. Non-active accounts reject every mutation
  5. Version strictly increases per persisted mutation (stores enforce)

SEE ALSO:
  - engine.go: Applies operations under the account lock
  - store.go: Persists accounts with optimistic concurrency
*/
package ledger

import "time"

// =============================================================================
// ACCOUNT - Balance aggregate
// =============================================================================

type Account struct {
	ID              AccountID
	ExternalID      string // optional client-side identity, unique where present
	Balance         Money
	ReservedBalance Money
	CreditLimit     Money
	Status          AccountStatus
	Version         int64 // optimistic-concurrency token, store-managed
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAccount creates a fresh Active account with a zero balance.
func NewAccount(id AccountID, externalID string, creditLimit Money) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:          id,
		ExternalID:  externalID,
		CreditLimit: creditLimit,
		Status:      AccountActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Available returns the freely spendable amount: balance minus reservations.
func (a *Account) Available() Money {
	return a.Balance.Sub(a.ReservedBalance)
}

// guard rejects non-positive amounts and mutations on non-active accounts.
func (a *Account) guard(amount Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if a.Status != AccountActive {
		return ErrAccountNotActive
	}
	return nil
}

// AddCredit increases the balance unconditionally.
func (a *Account) AddCredit(amount Money) error {
	if err := a.guard(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	a.touch()
	return nil
}

// Debit decreases the balance. Overdraft is allowed only within the
// credit limit: amount <= available + creditLimit.
func (a *Account) Debit(amount Money) error {
	if err := a.guard(amount); err != nil {
		return err
	}
	capacity := a.Available().Add(a.CreditLimit)
	if amount.GreaterThan(capacity) {
		return &InsufficientFundsError{AccountID: a.ID, Capacity: capacity, Requested: amount}
	}
	a.Balance = a.Balance.Sub(amount)
	a.touch()
	return nil
}

// Reserve holds an amount against future capture. Reservations come out
// of the available balance only, never out of credit.
func (a *Account) Reserve(amount Money) error {
	if err := a.guard(amount); err != nil {
		return err
	}
	if amount.GreaterThan(a.Available()) {
		return &InsufficientAvailableError{AccountID: a.ID, Available: a.Available(), Requested: amount}
	}
	a.ReservedBalance = a.ReservedBalance.Add(amount)
	a.touch()
	return nil
}

// Capture converts a reservation into a debit.
func (a *Account) Capture(amount Money) error {
	if err := a.guard(amount); err != nil {
		return err
	}
	if amount.GreaterThan(a.ReservedBalance) {
		return &InsufficientReservedError{AccountID: a.ID, Reserved: a.ReservedBalance, Requested: amount}
	}
	a.ReservedBalance = a.ReservedBalance.Sub(amount)
	a.Balance = a.Balance.Sub(amount)
	a.touch()
	return nil
}

// ReleaseReservation returns a held amount to the available balance.
func (a *Account) ReleaseReservation(amount Money) error {
	if err := a.guard(amount); err != nil {
		return err
	}
	if amount.GreaterThan(a.ReservedBalance) {
		return ErrInvalidReservation
	}
	a.ReservedBalance = a.ReservedBalance.Sub(amount)
	a.touch()
	return nil
}

func (a *Account) touch() {
	a.UpdatedAt = time.Now().UTC()
}
