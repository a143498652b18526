package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func activeAccount(balance, reserved, creditLimit ledger.Money) *ledger.Account {
	a := ledger.NewAccount("acct-1", "", creditLimit)
	a.Balance = balance
	a.ReservedBalance = reserved
	return a
}

// =============================================================================
// BASIC OPERATIONS
// =============================================================================

func TestAccount_AddCredit_IncreasesBalance(t *testing.T) {
	a := activeAccount(0, 0, 0)

	require.NoError(t, a.AddCredit(100000))

	assert.Equal(t, ledger.Money(100000), a.Balance)
	assert.Equal(t, ledger.Money(100000), a.Available())
}

func TestAccount_Debit_DecreasesBalance(t *testing.T) {
	a := activeAccount(100000, 0, 0)

	require.NoError(t, a.Debit(30000))

	assert.Equal(t, ledger.Money(70000), a.Balance)
	assert.Equal(t, ledger.Money(70000), a.Available())
}

func TestAccount_Reserve_HoldsAvailableBalance(t *testing.T) {
	a := activeAccount(20000, 0, 0)

	require.NoError(t, a.Reserve(10000))

	assert.Equal(t, ledger.Money(20000), a.Balance)
	assert.Equal(t, ledger.Money(10000), a.ReservedBalance)
	assert.Equal(t, ledger.Money(10000), a.Available())
}

func TestAccount_Capture_ConvertsReservationToDebit(t *testing.T) {
	// GIVEN: balance 200.00 with 100.00 reserved
	a := activeAccount(20000, 10000, 0)

	// WHEN: capturing 50.00
	require.NoError(t, a.Capture(5000))

	// THEN: balance 150.00, reserved 50.00, available 100.00
	assert.Equal(t, ledger.Money(15000), a.Balance)
	assert.Equal(t, ledger.Money(5000), a.ReservedBalance)
	assert.Equal(t, ledger.Money(10000), a.Available())
}

func TestAccount_ReleaseReservation_RestoresAvailable(t *testing.T) {
	a := activeAccount(20000, 10000, 0)

	require.NoError(t, a.ReleaseReservation(10000))

	assert.Equal(t, ledger.Money(0), a.ReservedBalance)
	assert.Equal(t, ledger.Money(20000), a.Available())
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestAccount_Debit_WithinCreditLimit_GoesNegative(t *testing.T) {
	// GIVEN: balance 100.00 with a 500.00 credit limit
	a := activeAccount(10000, 0, 50000)

	// WHEN: debiting 400.00
	require.NoError(t, a.Debit(40000))

	// THEN: overdraft within the limit
	assert.Equal(t, ledger.Money(-30000), a.Balance)
}

func TestAccount_Debit_BeyondCreditLimit_Fails(t *testing.T) {
	// GIVEN: balance -300.00 with a 500.00 credit limit (capacity 200.00)
	a := activeAccount(-30000, 0, 50000)

	err := a.Debit(30000)

	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, ledger.Money(-30000), a.Balance, "failed debit must not mutate")

	var detail *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, ledger.Money(20000), detail.Capacity)
	assert.Equal(t, ledger.Money(30000), detail.Requested)
}

func TestAccount_Reserve_NeverTouchesCredit(t *testing.T) {
	// Reservations come out of the available balance only; the credit
	// limit does not extend reserve capacity.
	a := activeAccount(10000, 0, 50000)

	err := a.Reserve(20000)

	require.ErrorIs(t, err, ledger.ErrInsufficientAvailable)
	assert.Equal(t, ledger.Money(0), a.ReservedBalance)
}

func TestAccount_Reserve_BlocksDebitOfHeldFunds(t *testing.T) {
	a := activeAccount(10000, 0, 0)
	require.NoError(t, a.Reserve(8000))

	err := a.Debit(5000)

	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestAccount_Capture_BeyondReserved_Fails(t *testing.T) {
	a := activeAccount(20000, 5000, 0)

	err := a.Capture(6000)

	require.ErrorIs(t, err, ledger.ErrInsufficientReserved)
	assert.Equal(t, ledger.Money(5000), a.ReservedBalance)
	assert.Equal(t, ledger.Money(20000), a.Balance)
}

func TestAccount_Release_BeyondReserved_Fails(t *testing.T) {
	a := activeAccount(20000, 5000, 0)

	require.ErrorIs(t, a.ReleaseReservation(6000), ledger.ErrInvalidReservation)
}

func TestAccount_ReservedNeverNegative(t *testing.T) {
	a := activeAccount(100000, 0, 0)

	require.NoError(t, a.Reserve(30000))
	require.NoError(t, a.Capture(20000))
	require.NoError(t, a.ReleaseReservation(10000))
	require.ErrorIs(t, a.ReleaseReservation(1), ledger.ErrInvalidReservation)

	assert.GreaterOrEqual(t, int64(a.ReservedBalance), int64(0))
}

// =============================================================================
// GUARDS
// =============================================================================

func TestAccount_RejectsNonPositiveAmounts(t *testing.T) {
	a := activeAccount(10000, 5000, 0)

	for _, amount := range []ledger.Money{0, -100} {
		assert.ErrorIs(t, a.AddCredit(amount), ledger.ErrInvalidAmount)
		assert.ErrorIs(t, a.Debit(amount), ledger.ErrInvalidAmount)
		assert.ErrorIs(t, a.Reserve(amount), ledger.ErrInvalidAmount)
		assert.ErrorIs(t, a.Capture(amount), ledger.ErrInvalidAmount)
		assert.ErrorIs(t, a.ReleaseReservation(amount), ledger.ErrInvalidAmount)
	}
}

func TestAccount_NonActive_RejectsAllMutations(t *testing.T) {
	for _, status := range []ledger.AccountStatus{ledger.AccountSuspended, ledger.AccountClosed} {
		a := activeAccount(10000, 5000, 0)
		a.Status = status

		assert.ErrorIs(t, a.AddCredit(100), ledger.ErrAccountNotActive)
		assert.ErrorIs(t, a.Debit(100), ledger.ErrAccountNotActive)
		assert.ErrorIs(t, a.Reserve(100), ledger.ErrAccountNotActive)
		assert.ErrorIs(t, a.Capture(100), ledger.ErrAccountNotActive)
		assert.ErrorIs(t, a.ReleaseReservation(100), ledger.ErrAccountNotActive)
	}
}

// =============================================================================
// MONEY
// =============================================================================

func TestMoney_DecimalBoundary(t *testing.T) {
	m := ledger.Money(12345)

	assert.Equal(t, "123.45", m.String())
	assert.Equal(t, ledger.Money(12345), ledger.MoneyFromDecimal(m.Decimal()))
}
