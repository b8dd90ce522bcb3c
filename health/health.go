// Package health is the periodic prober spec.md §1 names as an external
// collaborator ("health probing... treated as external"). Checker drives
// the node helpers the core exposes for exactly this purpose —
// MarkRetry, a probe callback, then MarkReady on success — the same
// ticker-loop shape mini-rpc's ClientTransport.heartbeatLoop uses to keep
// connections alive, applied here to keep them honest instead.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"connreg/pool"
)

// Probe exercises a node's underlying connection and reports whether it's
// still healthy. Checker holds no opinion on how — ping, read deadline,
// application-level heartbeat — that's entirely up to the caller.
type Probe func(ctx context.Context, n *pool.Node) error

// Checker periodically re-probes a set of registered nodes: it flags each
// idle one with MarkRetry, probes it, and returns it with MarkReady if the
// probe succeeds. A node whose probe fails stays in RETRY and is probed
// again on later sweeps; Checker never calls MarkFailed.
type Checker struct {
	probe    Probe
	interval time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	nodes map[*pool.Node]struct{}
}

// New builds a Checker that calls probe on every registered node once per
// interval.
func New(probe Probe, interval time.Duration, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		probe:    probe,
		interval: interval,
		log:      log,
		nodes:    make(map[*pool.Node]struct{}),
	}
}

// Watch adds n to the set of nodes this Checker sweeps.
func (c *Checker) Watch(n *pool.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[n] = struct{}{}
}

// Forget removes n from the sweep set — call this once a node has been
// removed from its Table and destroyed.
func (c *Checker) Forget(n *pool.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, n)
}

// Run sweeps on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Checker) sweep(ctx context.Context) {
	c.mu.Lock()
	watched := make([]*pool.Node, 0, len(c.nodes))
	for n := range c.nodes {
		watched = append(watched, n)
	}
	c.mu.Unlock()

	for _, n := range watched {
		c.check(ctx, n)
	}
}

// check only acts on nodes not currently checked out — ACTIVE nodes belong
// to whatever caller holds them, and MarkRetry's own TAS claim (rather
// than assuming the lock) is what keeps the checker from racing them for
// the node lock instead of just hoping it doesn't happen.
func (c *Checker) check(ctx context.Context, n *pool.Node) {
	switch n.State() {
	case pool.StateReady:
		if !n.MarkRetry() {
			// Lost the claim to a concurrent TimedGet, or the node
			// stopped being READY between the State() check and here;
			// either way it's not this sweep's to probe.
			return
		}
		if err := c.probe(ctx, n); err != nil {
			c.log.Debug("health probe failed, leaving node in RETRY",
				zap.String("ip", n.IP()), zap.Uint16("port", n.Port()), zap.Error(err))
			return
		}
		if !n.MarkReady() {
			c.log.Debug("health probe succeeded but node could not be reclaimed",
				zap.String("ip", n.IP()), zap.Uint16("port", n.Port()))
		}
	case pool.StateRetry:
		if err := c.probe(ctx, n); err != nil {
			c.log.Debug("health probe still failing",
				zap.String("ip", n.IP()), zap.Uint16("port", n.Port()), zap.Error(err))
			return
		}
		if !n.MarkReady() {
			c.log.Debug("health probe succeeded but node could not be reclaimed",
				zap.String("ip", n.IP()), zap.Uint16("port", n.Port()))
		}
	}
}
