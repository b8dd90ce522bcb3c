package pool

import "errors"

// Error kinds returned by Table and Node operations. Callers compare with
// errors.Is — the core never wraps these further, it returns them untouched.
var (
	// ErrInvalidInput is returned when an (ip, port) endpoint cannot be
	// parsed into an IPv4 dotted-quad, or a node was constructed wrong.
	ErrInvalidInput = errors.New("connreg: invalid input")

	// ErrOutOfMemory exists for interface parity with spec.md §6/§7's error
	// taxonomy (the source's connection_table_insert can fail an
	// allocation). Go's runtime doesn't hand allocation failures back as
	// errors, so Insert never actually returns this — it's kept so callers
	// written against the documented interface have something to
	// errors.Is against if a future implementation backs Insert with an
	// allocator that can fail.
	ErrOutOfMemory = errors.New("connreg: out of memory")

	// ErrNotFound is returned when no pool exists for an endpoint, or a
	// pool exists but holds no connection nodes at all.
	ErrNotFound = errors.New("connreg: not found")

	// ErrBusy is returned by Remove when the node is currently locked by
	// another caller. TimedGet does not return it: a scan that finds only
	// locked nodes waits, and ends in a claimed node or ErrTimeout.
	ErrBusy = errors.New("connreg: resource busy")

	// ErrAllPathsDown is returned when a pool has one or more nodes but
	// none are in the READY state (all FAILED, RETRY, ACTIVE, or ZOMBIE).
	ErrAllPathsDown = errors.New("connreg: all paths down")

	// ErrTimeout is returned when TimedGet's wait budget expires, or its
	// context is cancelled, before a node becomes available.
	ErrTimeout = errors.New("connreg: timed out waiting for connection")
)

// invariantViolation panics on caller misuse the state machine forbids:
// a disallowed FSM transition, MarkFailed without the node lock, or
// removing an ACTIVE node or one with no owning pool. These are fatal by
// design — spec.md §7 treats them as bugs in the calling code, not
// recoverable runtime conditions. Releasing a node lock that is not held
// is not detected: unlock simply clears the bit.
func invariantViolation(msg string) {
	panic("connreg: invariant violation: " + msg)
}
