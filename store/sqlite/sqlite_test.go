package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedAccount(t *testing.T, store *sqlite.Store, externalID string) *ledger.Account {
	t.Helper()
	a := ledger.NewAccount(ledger.AccountID("acct-"+t.Name()+"-"+externalID), externalID, 0)
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

func seedTransaction(t *testing.T, store *sqlite.Store, ref string, a *ledger.Account) *ledger.Transaction {
	t.Helper()
	txn, err := ledger.NewTransaction(ledger.TransactionID("tx-"+ref), ref, ledger.OpCredit, 5000, a.ID)
	require.NoError(t, err)
	require.NoError(t, store.CreateTransaction(context.Background(), txn))
	return txn
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := ledger.NewAccount("acct-1", "cust-1", 50000)
	a.Balance = -30000
	a.ReservedBalance = 1000
	require.NoError(t, store.CreateAccount(ctx, a))

	loaded, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(-30000), loaded.Balance)
	assert.Equal(t, ledger.Money(1000), loaded.ReservedBalance)
	assert.Equal(t, ledger.Money(50000), loaded.CreditLimit)
	assert.Equal(t, ledger.AccountActive, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)

	byExternal, err := store.GetAccountByExternalID(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, loaded.ID, byExternal.ID)
}

func TestStore_AccountMiss(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetAccount(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = store.GetAccountByExternalID(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestStore_ExternalIDUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, ledger.NewAccount("acct-1", "cust-1", 0)))
	err := store.CreateAccount(ctx, ledger.NewAccount("acct-2", "cust-1", 0))
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

	// Accounts without an external id do not collide with each other.
	require.NoError(t, store.CreateAccount(ctx, ledger.NewAccount("acct-3", "", 0)))
	require.NoError(t, store.CreateAccount(ctx, ledger.NewAccount("acct-4", "", 0)))
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

func TestStore_UpdateAccount_AdvancesVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "v1")

	a.Balance = 100
	require.NoError(t, store.UpdateAccount(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	loaded, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, ledger.Money(100), loaded.Balance)
}

func TestStore_UpdateAccount_StaleVersionRejected(t *testing.T) {
	// GIVEN: two readers of the same row
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "stale")

	first, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	second, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)

	// WHEN: the first writer wins
	first.Balance = 100
	require.NoError(t, store.UpdateAccount(ctx, first))

	// THEN: the second write carries a stale token and is rejected
	second.Balance = 200
	err = store.UpdateAccount(ctx, second)
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)

	loaded, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(100), loaded.Balance, "the stale write must not land")
}

// =============================================================================
// TRANSACTIONS & IDEMPOTENCY INDEX
// =============================================================================

func TestStore_TransactionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "rt")

	txn, err := ledger.NewTransaction("tx-1", "REF-1", ledger.OpTransfer, 40000, a.ID)
	require.NoError(t, err)
	txn.TargetAccountID = "acct-other"
	txn.Currency = "USD"
	txn.Metadata = `{"note":"rent"}`
	require.NoError(t, store.CreateTransaction(ctx, txn))

	loaded, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "REF-1", loaded.ReferenceID)
	assert.Equal(t, ledger.OpTransfer, loaded.Operation)
	assert.Equal(t, ledger.Money(40000), loaded.Amount)
	assert.Equal(t, ledger.AccountID("acct-other"), loaded.TargetAccountID)
	assert.Equal(t, "USD", loaded.Currency)
	assert.Equal(t, ledger.StatusPending, loaded.Status)

	byRef, err := store.GetTransactionByReference(ctx, "REF-1")
	require.NoError(t, err)
	assert.Equal(t, loaded.ID, byRef.ID)
}

func TestStore_DuplicateReferenceRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "dup")
	seedTransaction(t, store, "REF-DUP", a)

	other, err := ledger.NewTransaction("tx-other", "REF-DUP", ledger.OpDebit, 100, a.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, store.CreateTransaction(ctx, other), ledger.ErrDuplicateReference)
}

func TestStore_UpdateTransactionStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "st")
	txn := seedTransaction(t, store, "REF-ST", a)

	require.NoError(t, txn.MarkFailed("insufficient funds"))
	require.NoError(t, store.UpdateTransaction(ctx, txn))

	loaded, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, loaded.Status)
	assert.Equal(t, "insufficient funds", loaded.ErrorMessage)
}

func TestStore_ListTransactions_IncludesTargetLeg(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "src")
	b := seedAccount(t, store, "dst")

	txn, err := ledger.NewTransaction("tx-xfer", "REF-XFER", ledger.OpTransfer, 100, a.ID)
	require.NoError(t, err)
	txn.TargetAccountID = b.ID
	require.NoError(t, store.CreateTransaction(ctx, txn))

	forTarget, err := store.ListTransactions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, forTarget, 1)
	assert.Equal(t, ledger.TransactionID("tx-xfer"), forTarget[0].ID)
}

func TestStore_ListPendingBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "sweep")

	old, err := ledger.NewTransaction("tx-old", "REF-OLD", ledger.OpCredit, 100, a.ID)
	require.NoError(t, err)
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateTransaction(ctx, old))

	seedTransaction(t, store, "REF-FRESH", a)

	pending, err := store.ListPendingBefore(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ledger.TransactionID("tx-old"), pending[0].ID)
}

func TestStore_TimestampOrdering_SubSecond(t *testing.T) {
	// Timestamps are stored as TEXT and compared lexicographically, so a
	// whole-second value must not sort after a fractional one in the same
	// second. Guards the fixed-width nanosecond padding.
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "clock")

	base := time.Date(2026, 8, 26, 12, 0, 5, 0, time.UTC)

	whole, err := ledger.NewTransaction("tx-whole", "REF-WHOLE", ledger.OpCredit, 100, a.ID)
	require.NoError(t, err)
	whole.CreatedAt = base // exactly on the second
	require.NoError(t, store.CreateTransaction(ctx, whole))

	frac, err := ledger.NewTransaction("tx-frac", "REF-FRAC", ledger.OpCredit, 100, a.ID)
	require.NoError(t, err)
	frac.CreatedAt = base.Add(500 * time.Millisecond)
	require.NoError(t, store.CreateTransaction(ctx, frac))

	// A cutoff between the two picks up only the whole-second record.
	pending, err := store.ListPendingBefore(ctx, base.Add(250*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ledger.TransactionID("tx-whole"), pending[0].ID)

	// Newest-first listing keeps the fractional record on top.
	listed, err := store.ListTransactions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, ledger.TransactionID("tx-frac"), listed[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-whole"), listed[1].ID)
}

// =============================================================================
// STORAGE TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, store, "tx")

	err := store.WithTx(ctx, func(s ledger.Store) error {
		fresh, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		fresh.Balance = 100
		if err := s.UpdateAccount(ctx, fresh); err != nil {
			return err
		}
		return ledger.ErrInsufficientFunds // force rollback
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	loaded, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), loaded.Balance)
	assert.Equal(t, int64(1), loaded.Version, "rolled-back update must not advance the token")
}

func TestStore_WithTx_CommitsMultiRowAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := seedAccount(t, store, "from")
	dst := seedAccount(t, store, "to")
	txn := seedTransaction(t, store, "REF-ATOMIC", src)

	err := store.WithTx(ctx, func(s ledger.Store) error {
		a, err := s.GetAccount(ctx, src.ID)
		require.NoError(t, err)
		b, err := s.GetAccount(ctx, dst.ID)
		require.NoError(t, err)

		a.Balance -= 100
		b.Balance += 100
		if err := s.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if err := s.UpdateAccount(ctx, b); err != nil {
			return err
		}
		if err := txn.MarkCompleted(); err != nil {
			return err
		}
		return s.UpdateTransaction(ctx, txn)
	})
	require.NoError(t, err)

	srcAfter, _ := store.GetAccount(ctx, src.ID)
	dstAfter, _ := store.GetAccount(ctx, dst.ID)
	txnAfter, _ := store.GetTransaction(ctx, txn.ID)
	assert.Equal(t, ledger.Money(-100), srcAfter.Balance)
	assert.Equal(t, ledger.Money(100), dstAfter.Balance)
	assert.Equal(t, ledger.StatusCompleted, txnAfter.Status)
}
