package pool

import (
	"container/list"
	"sync/atomic"
	"time"

	"connreg/stat"
)

// Pool is the per-endpoint bundle spec.md §3 describes: the set of
// connection nodes sharing one (ip, port), its blocking wait queue, and
// its counters. A Pool is created on first Table.Insert for its endpoint
// and is destroyed only by Table.Destroy — removing its last node never
// destroys it; an empty pool persists (spec.md §3 "Lifecycles").
type Pool struct {
	ip   string
	port uint16
	key  uint32

	connList          list.List // of *Node, head-insertion (newest first)
	nrConnections     atomic.Int32
	nrIdleConnections atomic.Int32

	wq waitQueue

	// upref pins the pool alive across a dropped table lock — see
	// spec.md §5/§9. Must reach zero, with an empty wait queue and an
	// empty conn list, before Table.Destroy may free the pool.
	upref atomic.Int32

	nrWaits stat.Counter
}

func newPool(ip string, port uint16, key uint32) *Pool {
	return &Pool{
		ip:      ip,
		port:    port,
		key:     key,
		nrWaits: stat.New(),
	}
}

// IP returns the pool's endpoint IP.
func (p *Pool) IP() string { return p.ip }

// Port returns the pool's endpoint port.
func (p *Pool) Port() uint16 { return p.port }

// NrConnections returns the total number of nodes currently linked into
// this pool, ready or not.
func (p *Pool) NrConnections() int32 { return p.nrConnections.Load() }

// NrIdleConnections returns the count of nodes in the READY state —
// spec.md §3's invariant: this must equal the count of READY nodes in
// connList at every quiescent point.
func (p *Pool) NrIdleConnections() int32 { return p.nrIdleConnections.Load() }

// NrWaits returns the number of times a caller suspended on this pool's
// wait queue.
func (p *Pool) NrWaits() int64 { return p.nrWaits.Value() }

// connGetResult is the outcome of scanning a pool for a claimable node —
// a claimed node, or one of three failures (empty, all paths down, busy) —
// matching the kernel source's connection_get.
type connGetResult int

const (
	resultFound connGetResult = iota
	resultEmpty
	resultAllPathsDown
	resultBusy
)

// connectionGet scans p.connList in head-first order (spec.md §4.5's
// "newest node preferred — warm-cache bias") for a node it can claim:
//
//   - TAS the lock bit; if already locked, remember we saw a busy node
//     and move on.
//   - If we win the lock and the node is READY, claim it: ACTIVE,
//     decrement idle count, attribute the wait time, stamp the hold-start
//     time, bump the lookup counter, and return it still locked.
//   - Otherwise release the lock we just took and move on.
//
// After the scan: NotFound if the list was empty, AllPathsDown if every
// node was inspected and unlocked again (none were READY, and none were
// already busy), Busy if at least one node was already locked.
func connectionGet(p *Pool, waitStart time.Time) (*Node, connGetResult) {
	allPathsDown := true

	for e := p.connList.Front(); e != nil; e = e.Next() {
		n := e.Value.(*Node)

		if !n.tryLock() {
			allPathsDown = false
			continue
		}

		if n.State() == StateReady {
			p.nrIdleConnections.Add(-1)
			n.state.Store(uint32(StateActive))
			n.totWait.Add(int64(time.Since(waitStart)))
			n.nowJS = time.Now()
			n.lookups.Inc()
			return n, resultFound
		}

		n.unlock()
	}

	if p.connList.Len() == 0 {
		return nil, resultEmpty
	}
	if allPathsDown {
		return nil, resultAllPathsDown
	}
	return nil, resultBusy
}
