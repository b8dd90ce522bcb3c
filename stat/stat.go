// Package stat provides the counter abstraction spec.md names but treats
// as an external collaborator ("the statistics counter implementation...
// we only name its operations"). It follows the same shape as the counter
// type in soyvural-connpool: a tiny interface over an atomic int64, so
// callers can swap in a richer implementation (a Prometheus counter, a
// ring-buffered histogram) without the pool package knowing the difference.
package stat

import "sync/atomic"

// Counter is a monotonically-adjustable 64-bit counter. Add may be called
// with a negative delta only by Reset's caller re-deriving a baseline; the
// pool package itself only ever calls Add with non-negative deltas and Inc.
type Counter interface {
	Inc() int64
	Add(delta int64) int64
	Value() int64
	Reset() int64
}

// counter is the default atomic-backed Counter.
type counter struct {
	v int64
}

// New returns a fresh, zeroed Counter.
func New() Counter {
	return &counter{}
}

func (c *counter) Inc() int64 {
	return atomic.AddInt64(&c.v, 1)
}

func (c *counter) Add(delta int64) int64 {
	return atomic.AddInt64(&c.v, delta)
}

func (c *counter) Value() int64 {
	return atomic.LoadInt64(&c.v)
}

func (c *counter) Reset() int64 {
	return atomic.SwapInt64(&c.v, 0)
}
