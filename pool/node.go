package pool

import (
	"container/list"
	"sync/atomic"
	"time"

	"connreg/stat"
)

// State is the connection node's health FSM, spec.md §3/§4.2.
type State uint32

const (
	// StateDown is the initial state before a node has been inserted.
	StateDown State = iota
	// StateReady marks a node as idle and claimable by TimedGet.
	StateReady
	// StateActive marks a node as checked out by exactly one caller.
	StateActive
	// StateRetry marks a node flagged for re-probe; not claimable.
	StateRetry
	// StateFailed marks a node that hit a hard failure; not claimable.
	StateFailed
	// StateZombie marks a node unlinked from its pool, pending Destroy.
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StateRetry:
		return "RETRY"
	case StateFailed:
		return "FAILED"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Op labels which operation a caller performed with a checked-out node,
// used solely for timing attribution in Put (spec.md §4.6).
type Op int

const (
	// OpGet attributes the elapsed hold time to tot_js_get.
	OpGet Op = iota
	// OpPut attributes the elapsed hold time to tot_js_put.
	OpPut
)

// Node is a caller-supplied connection descriptor: identity, a lock bit,
// a health state, a back-pointer to its owning pool, timing stamps, and
// usage counters. Callers embed or wrap their own transport handle and
// hand a *Node to Table.Insert once it's ready to serve requests.
//
// The pool back-pointer is safe to dereference iff the caller holds (a) the
// table's read lock, (b) this node's lock bit, or (c) an upref on the pool
// — see spec.md §5 and §9.
type Node struct {
	ip   string
	port uint16

	state  atomic.Uint32 // State, read/written atomically — dump reads it lock-free
	locked atomic.Bool   // test-and-set lock bit, separate from state

	pool *Pool
	elem *list.Element // this node's element in pool.connList, set under table lock

	nowJS time.Time // stamped at lock acquisition, consumed on release

	lookups       stat.Counter
	totGet        stat.Counter // accumulated hold time while checked out via OpGet
	totPut        stat.Counter // accumulated hold time while checked out via OpPut
	totWait       stat.Counter // accumulated time from TimedGet's start to the claim
	txBytes       stat.Counter
	rxBytes       stat.Counter
	retryAttempts stat.Counter
}

// NewNode allocates and initializes a node for the given endpoint. It does
// not bind the node to a pool — call Table.Insert for that.
func NewNode(ip string, port uint16) (*Node, error) {
	n := &Node{}
	if err := n.init(ip, port); err != nil {
		return nil, err
	}
	return n, nil
}

// init implements spec.md §4.2's cacheobj_connection_node_init: copies ip,
// stores port, sets state=DOWN, clears the lock bit, resets counters.
func (n *Node) init(ip string, port uint16) error {
	if ip == "" {
		return ErrInvalidInput
	}
	n.ip = ip
	n.port = port
	n.state.Store(uint32(StateDown))
	n.locked.Store(false)
	n.pool = nil
	n.lookups = stat.New()
	n.totGet = stat.New()
	n.totPut = stat.New()
	n.totWait = stat.New()
	n.txBytes = stat.New()
	n.rxBytes = stat.New()
	n.retryAttempts = stat.New()
	return nil
}

// Destroy releases a node's resources. It must be called only after the
// node has been unlinked from its pool (Table.Remove), matching spec.md
// §4.2's precondition — "only when node is unlinked." Freeing `ip` has no
// Go equivalent (the garbage collector reclaims the string once
// unreferenced); clearing the pool back-pointer is the one step that
// matters here.
func (n *Node) Destroy() {
	n.pool = nil
}

// IP returns the node's endpoint IP.
func (n *Node) IP() string { return n.ip }

// Port returns the node's endpoint port.
func (n *Node) Port() uint16 { return n.port }

// State returns the node's current FSM state.
func (n *Node) State() State { return State(n.state.Load()) }

// Lookups returns the total number of successful TimedGet claims.
func (n *Node) Lookups() int64 { return n.lookups.Value() }

// RetryAttempts returns the number of times MarkRetry has succeeded.
func (n *Node) RetryAttempts() int64 { return n.retryAttempts.Value() }

// AddTxBytes attributes sent bytes to this node's transfer counters. This
// is the only counter update the core invites callers to make directly —
// byte accounting is inherently the caller's business, since the core
// never touches the socket.
func (n *Node) AddTxBytes(delta int64) { n.txBytes.Add(delta) }

// AddRxBytes attributes received bytes to this node's transfer counters.
func (n *Node) AddRxBytes(delta int64) { n.rxBytes.Add(delta) }

// tryLock attempts the lock-bit test-and-set. Returns true on success.
func (n *Node) tryLock() bool {
	return n.locked.CompareAndSwap(false, true)
}

// unlock releases the lock bit with release-store semantics.
func (n *Node) unlock() {
	n.locked.Store(false)
}

// MarkFailed transitions an ACTIVE or RETRY node to FAILED. Precondition:
// the caller holds the node lock (i.e. this node was returned by TimedGet
// and not yet Put; MarkRetry leaves a RETRY node unlocked, so it does not
// satisfy this). Spec.md §9 flags the kernel
// source's original ordering — clearing the lock bit before writing
// state=FAILED — as likely a defect, since it lets another caller observe
// the unlocked node mid-transition; we set state first, then release.
func (n *Node) MarkFailed() {
	if !n.locked.Load() {
		invariantViolation("MarkFailed called without holding the node lock")
	}
	st := n.State()
	if st != StateActive && st != StateRetry {
		invariantViolation("MarkFailed called with node not ACTIVE or RETRY")
	}
	n.state.Store(uint32(StateFailed))
	n.unlock()
	logger.Debug("node marked failed")
}

// MarkRetry attempts to claim an idle (READY) node and flag it for
// re-probe, for a caller — typically a health prober — that has only
// inspected Node.State() and does not already hold the node's lock. It
// performs the claim itself via tryLock rather than assuming the lock is
// already held, so a node a concurrent TimedGet just claimed ACTIVE can't
// be silently stomped into RETRY out from under its holder (spec.md §3's
// "at most one caller observes any given node" invariant). Returns false,
// leaving the node untouched, if it could not be claimed or was not READY.
//
// On success the node is left UNLOCKED in RETRY, deliberately: connectionGet's
// scan must still be able to TAS it, see it is not READY, and unlock it
// again, so a pool whose only nodes are RETRY correctly reports
// AllPathsDown rather than Busy — a node left locked here would look
// identical to one a caller is actively using, which RETRY is not.
func (n *Node) MarkRetry() bool {
	if !n.tryLock() {
		return false
	}
	if n.State() != StateReady {
		n.unlock()
		return false
	}
	if n.pool != nil {
		n.pool.nrIdleConnections.Add(-1)
	}
	n.state.Store(uint32(StateRetry))
	n.retryAttempts.Inc()
	n.unlock()
	logger.Debug("node marked retry")
	return true
}

// MarkReady attempts to claim a RETRY node and transition it back to
// READY, making it claimable by TimedGet again. Symmetric with MarkRetry:
// it TAS-claims the node itself rather than asserting the caller already
// holds the lock, since MarkRetry leaves a RETRY node unlocked for exactly
// this reason. Returns false, leaving the node untouched, if it could not
// be claimed or was not in RETRY.
func (n *Node) MarkReady() bool {
	if !n.tryLock() {
		return false
	}
	if n.State() != StateRetry {
		n.unlock()
		return false
	}
	n.state.Store(uint32(StateReady))
	if n.pool != nil {
		n.pool.nrIdleConnections.Add(1)
	}
	n.unlock()
	logger.Debug("node marked ready")
	return true
}
