// Package pool implements the connection pool registry's concurrent core:
// an endpoint-keyed hash table of per-endpoint connection pools, the
// claim/release protocol that hands a caller exclusive ownership of one
// connection node at a time, and the health state machine governing node
// transitions. See SPEC_FULL.md for the full component breakdown; this
// file implements the table itself (spec.md §4.3, §4.4, §4.5, §4.6, §4.7).
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultBuckets is the fixed, compile-time bucket count spec.md §3/§9
// calls for: chained buckets, no resizing, ever.
const defaultBuckets = 251

// Config is the single construction-time knob spec.md §6 asks for — a
// compile-time constant fixing the bucket count. Surfacing it as a
// constructor argument (defaulted when zero) makes it testable without
// changing its fixed, never-resized nature: once a Table is built its
// bucket count is frozen for the Table's lifetime.
type Config struct {
	Buckets int
}

type bucket struct {
	pools []*Pool
}

// Table is the hash-bucketed index from endpoint key to Pool, protected by
// a single readers-writer lock that guards all structural mutation (pool
// and node insert/remove) and structural reads (peek, iter, dump).
type Table struct {
	mu      sync.RWMutex
	buckets []bucket
}

// NewTable builds an empty Table. Operations are only valid between
// NewTable and Destroy — spec.md §3 "operations outside [init, destroy)
// are undefined."
func NewTable(cfg Config) *Table {
	n := cfg.Buckets
	if n <= 0 {
		n = defaultBuckets
	}
	return &Table{buckets: make([]bucket, n)}
}

func (t *Table) bucketFor(key uint32) *bucket {
	return &t.buckets[int(key)%len(t.buckets)]
}

// lookupLocked finds the pool for (ip, port). Caller must hold t.mu in
// either read or write mode.
func (t *Table) lookupLocked(ip string, port uint16, key uint32) *Pool {
	b := t.bucketFor(key)
	for _, p := range b.pools {
		if p.port == port && p.ip == ip {
			return p
		}
	}
	return nil
}

// Insert implements spec.md §4.3: bind node to the pool for its endpoint,
// allocating the pool on first use. Pool allocation happens outside the
// write lock (endpoint string duplication and struct allocation must not
// happen while holding the rwlock — spec.md §5). Spec.md §9's Open
// Question on racing inserts is resolved here by re-checking for the pool
// after reacquiring the write lock, discarding a losing allocation instead
// of linking a duplicate pool for the same endpoint.
func (t *Table) Insert(n *Node) error {
	if n == nil {
		return ErrInvalidInput
	}
	key, err := endpointKey(n.ip, n.port)
	if err != nil {
		return err
	}

	t.mu.Lock()
	pool := t.lookupLocked(n.ip, n.port, key)
	if pool == nil {
		t.mu.Unlock()

		candidate := newPool(n.ip, n.port, key)

		t.mu.Lock()
		pool = t.lookupLocked(n.ip, n.port, key)
		if pool == nil {
			pool = candidate
			b := t.bucketFor(key)
			b.pools = append(b.pools, pool)
		}
		// else: a concurrent inserter won the race; candidate is discarded.
	}

	n.pool = pool
	n.elem = pool.connList.PushFront(n)
	pool.nrConnections.Add(1)
	n.state.Store(uint32(StateReady))
	pool.nrIdleConnections.Add(1)
	pool.upref.Add(1)
	t.mu.Unlock()

	pool.wq.notifyOne()
	pool.upref.Add(-1)

	logger.Debug("connection inserted",
		zapFields(n.ip, n.port)...,
	)
	return nil
}

// Remove implements spec.md §4.4: unlink a node from its pool. The pool
// itself is never destroyed here, even if it becomes empty — pools
// outlive emptiness (spec.md §3).
func (t *Table) Remove(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(n)
}

// removeLocked requires the caller to already hold t.mu for writing.
func (t *Table) removeLocked(n *Node) error {
	if !n.tryLock() {
		logger.Error("remove failed, node is locked", zapFields(n.ip, n.port)...)
		return ErrBusy
	}

	pool := n.pool
	if pool == nil {
		invariantViolation("remove called on a node with no owning pool")
	}
	if n.State() == StateActive {
		invariantViolation("remove called on an ACTIVE node")
	}

	if n.State() == StateReady {
		pool.nrIdleConnections.Add(-1)
		n.state.Store(uint32(StateZombie))
	}

	pool.connList.Remove(n.elem)
	n.elem = nil
	pool.nrConnections.Add(-1)
	return nil
}

// Peek implements spec.md §4.7: returns the head of the pool's conn list
// without taking the node lock. Advisory only — the returned node's
// validity is not guaranteed once the read lock is released.
func (t *Table) Peek(ip string, port uint16) *Node {
	key, err := endpointKey(ip, port)
	if err != nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	pool := t.lookupLocked(ip, port, key)
	if pool == nil {
		return nil
	}
	if e := pool.connList.Front(); e != nil {
		return e.Value.(*Node)
	}
	return nil
}

// Iter implements spec.md §4.7: returns the first node of the first
// non-empty pool encountered. Not a general-purpose iterator — callers use
// it to drive external shutdown sweeps (e.g. "while Iter() != nil, Remove
// and close").
func (t *Table) Iter() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.buckets {
		for _, p := range t.buckets[i].pools {
			if e := p.connList.Front(); e != nil {
				return e.Value.(*Node)
			}
		}
	}
	return nil
}

// TimedGet implements spec.md §4.5, the central algorithm: claim one
// READY node for (ip, port) under exclusive ownership, blocking up to
// timeout if the pool exists but is momentarily contended.
//
//   - timeout == 0: try once, never block.
//   - timeout < 0: wait indefinitely (still subject to ctx cancellation).
//   - timeout > 0: wait up to that long, retrying the scan after each wake.
//
// ctx is an idiomatic addition over the source's tick-budget-only wait:
// spec.md §5 asks that "external cancellation... aborts the wait and is
// surfaced as a non-success return," which we thread through ctx.Done()
// alongside the timeout timer.
func (t *Table) TimedGet(ctx context.Context, ip string, port uint16, timeout time.Duration) (*Node, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := endpointKey(ip, port)
	if err != nil {
		return nil, err
	}

	waitStart := time.Now()
	deadline := time.Time{}
	if timeout > 0 {
		deadline = waitStart.Add(timeout)
	}

	for {
		t.mu.RLock()
		pool := t.lookupLocked(ip, port, key)
		if pool == nil {
			t.mu.RUnlock()
			return nil, ErrNotFound
		}

		node, res := connectionGet(pool, waitStart)
		if res == resultFound {
			t.mu.RUnlock()
			return node, nil
		}

		switch res {
		case resultEmpty:
			t.mu.RUnlock()
			return nil, ErrNotFound
		case resultAllPathsDown:
			t.mu.RUnlock()
			return nil, ErrAllPathsDown
		case resultBusy:
			// It is essential that upref happens while still holding the
			// read lock — otherwise a writer could destroy the pool in
			// the gap between dropping the lock and pinning it.
			pool.upref.Add(1)
			t.mu.RUnlock()

			ch := pool.wq.add()
			// A release that made a node idle between the scan and add()
			// has already delivered its wakeup; rescan instead of waiting
			// for one that will not come.
			if pool.nrIdleConnections.Load() > 0 {
				pool.wq.remove(ch)
				pool.upref.Add(-1)
				continue
			}
			pool.nrWaits.Inc()

			remaining := timeout
			if timeout > 0 {
				remaining = time.Until(deadline)
				if remaining < 0 {
					remaining = 0
				}
			}
			woke := pool.wq.wait(ctx, ch, remaining)
			pool.upref.Add(-1)

			if !woke {
				if ctx.Err() != nil {
					return nil, ErrTimeout
				}
				if timeout == 0 {
					return nil, ErrTimeout
				}
				if timeout > 0 && !time.Now().Before(deadline) {
					return nil, ErrTimeout
				}
			}
			// loop and rescan — either we were woken, or (timeout < 0)
			// a spurious/early return means we retry regardless.
			continue
		default:
			invariantViolation("connectionGet returned an unknown result")
		}
	}
}

// Put implements spec.md §4.6: release a node after use. If the node is
// ACTIVE, attribute the hold time to the right counter, transition it back
// to READY, and wake at most one waiter — in exactly the order spec.md
// requires: idle count and state are updated, *then* the lock is released,
// *then* the wakeup is delivered, all bracketed by an upref so a
// concurrent writer can't free the pool between "node released" and
// "waiter observes." Any other state (FAILED, RETRY, ZOMBIE) just releases
// the lock: no counter updates, no wakeup.
func (t *Table) Put(n *Node, op Op) {
	if n.State() != StateActive {
		n.unlock()
		return
	}

	pool := n.pool
	held := time.Since(n.nowJS)
	switch op {
	case OpGet:
		n.totGet.Add(int64(held))
	case OpPut:
		n.totPut.Add(int64(held))
	}

	n.state.Store(uint32(StateReady))
	pool.upref.Add(1)
	pool.nrIdleConnections.Add(1)
	n.unlock()
	pool.wq.notifyOne()
	pool.upref.Add(-1)
}

// destroyPoolLocked implements the kernel source's __connection_pool_destroy:
// refuses to free a pool with outstanding uprefs, pending waiters, or a
// non-empty conn list. Caller must hold t.mu for writing.
func destroyPoolLocked(p *Pool) error {
	if p.upref.Load() != 0 {
		return fmt.Errorf("%w: pool %s:%d has %d outstanding reference(s)", ErrBusy, p.ip, p.port, p.upref.Load())
	}
	if p.wq.active() {
		return fmt.Errorf("%w: pool %s:%d has pending waiters", ErrBusy, p.ip, p.port)
	}
	if p.connList.Len() != 0 {
		return fmt.Errorf("%w: pool %s:%d connection list is not empty", ErrBusy, p.ip, p.port)
	}
	return nil
}

// Destroy implements spec.md §4.7: walk every pool, remove and destroy
// every node (best-effort — a busy node causes that pool's removal to be
// skipped and logged), then attempt pool destruction. Pools that still
// have outstanding references, pending waiters, or a non-empty list are
// reported and leaked on shutdown, matching the source's behavior.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		surviving := b.pools[:0]
		for _, p := range b.pools {
			var next *list.Element
			for e := p.connList.Front(); e != nil; e = next {
				next = e.Next()
				n := e.Value.(*Node)
				if err := t.removeLocked(n); err != nil {
					logger.Error("connection remove error during destroy",
						zapFields(n.ip, n.port)...)
					continue
				}
				n.Destroy()
				removed++
			}

			if err := destroyPoolLocked(p); err != nil {
				logger.Error("failed to destroy pool", zapErrField(err))
				surviving = append(surviving, p)
			}
		}
		b.pools = surviving
	}

	logger.Info("table destroy complete", zapIntField("removed", removed))
}
