package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MUTUAL EXCLUSION
// =============================================================================

func TestLockManager_SerializesSameAccount(t *testing.T) {
	lm := ledger.NewLockManager()
	ctx := context.Background()

	var inside int
	var maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lm.WithLock(ctx, []ledger.AccountID{"acct-1"}, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "critical section must be exclusive")
}

func TestLockManager_OpposingOrders_NoDeadlock(t *testing.T) {
	// GIVEN: concurrent lockers asking for {A,B} and {B,A}
	// THEN: canonical ordering prevents the cyclic wait; all complete
	lm := ledger.NewLockManager()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		ids := []ledger.AccountID{"acct-a", "acct-b"}
		if i%2 == 1 {
			ids = []ledger.AccountID{"acct-b", "acct-a"}
		}
		wg.Add(1)
		go func(ids []ledger.AccountID) {
			defer wg.Done()
			err := lm.WithLock(ctx, ids, func() error {
				time.Sleep(100 * time.Microsecond)
				return nil
			})
			assert.NoError(t, err)
		}(ids)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("deadlock: opposing lock orders never completed")
	}
}

func TestLockManager_DuplicateAndEmptyIDs(t *testing.T) {
	lm := ledger.NewLockManager()

	// Duplicate ids must not double-acquire the same semaphore.
	err := lm.WithLock(context.Background(), []ledger.AccountID{"acct-1", "", "acct-1"}, func() error {
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestLockManager_AcquireHonorsCancellation(t *testing.T) {
	lm := ledger.NewLockManager()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.WithLock(context.Background(), []ledger.AccountID{"acct-1"}, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lm.WithLock(ctx, []ledger.AccountID{"acct-1"}, func() error {
		t.Fatal("must not enter the critical section")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestLockManager_ReleasesPartialAcquisitionOnCancel(t *testing.T) {
	lm := ledger.NewLockManager()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.WithLock(context.Background(), []ledger.AccountID{"acct-b"}, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// {acct-a, acct-b}: acct-a acquires, acct-b blocks until the timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := lm.WithLock(ctx, []ledger.AccountID{"acct-a", "acct-b"}, func() error { return nil })
	require.Error(t, err)

	// acct-a must have been released on the failure path.
	err = lm.WithLock(context.Background(), []ledger.AccountID{"acct-a"}, func() error { return nil })
	require.NoError(t, err)

	close(release)
}
