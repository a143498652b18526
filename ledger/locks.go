/*
locks.go - Per-account advisory locking

PURPOSE:
  Cooperative mutual exclusion keyed by account id within a single
  process. Every balance mutation runs under the locks of all accounts
  it touches, so per-account mutations are totally ordered and
  multi-account operations are observed atomically.

DEADLOCK AVOIDANCE:
  WithLock sorts the id set into a canonical ascending order before
  acquiring and releases in reverse order. Because every caller uses the
  same order, no cyclic wait is possible: two concurrent transfers A->B
  and B->A serialize instead of deadlocking.

LIMITATION:
  Locks are process-local. Horizontal replication requires a distributed
  lock or single-writer sharding with the same canonical-order
  discipline; that is outside this engine.

SEE ALSO:
  - engine.go: Wraps the storage transaction in WithLock
*/
package ledger

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// =============================================================================
// LOCK MANAGER - Canonical-order multi-account mutexes
// =============================================================================

// LockManager provides per-account mutual exclusion. Entries are created
// lazily on first use and retained for the process lifetime; the working
// set of accounts is assumed bounded.
type LockManager struct {
	mu   sync.Mutex
	sems map[AccountID]*semaphore.Weighted
}

func NewLockManager() *LockManager {
	return &LockManager{sems: make(map[AccountID]*semaphore.Weighted)}
}

func (lm *LockManager) sem(id AccountID) *semaphore.Weighted {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	s, ok := lm.sems[id]
	if !ok {
		s = semaphore.NewWeighted(1)
		lm.sems[id] = s
	}
	return s
}

// WithLock acquires exclusive access to every id in ids (deduplicated,
// canonical ascending order), invokes fn, and releases all locks in
// reverse order on every exit path. Acquisition blocks and honors
// context cancellation; fairness is not guaranteed.
func (lm *LockManager) WithLock(ctx context.Context, ids []AccountID, fn func() error) error {
	ordered := canonicalOrder(ids)

	acquired := make([]*semaphore.Weighted, 0, len(ordered))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Release(1)
		}
	}

	for _, id := range ordered {
		s := lm.sem(id)
		if err := s.Acquire(ctx, 1); err != nil {
			release()
			return err
		}
		acquired = append(acquired, s)
	}
	defer release()

	return fn()
}

// canonicalOrder deduplicates and sorts account ids into the total order
// used by every caller.
func canonicalOrder(ids []AccountID) []AccountID {
	seen := make(map[AccountID]struct{}, len(ids))
	ordered := make([]AccountID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return ordered
}
