// Package dial is the rate-limited connection factory spec.md §1 and §5
// name as an external collaborator: "construction of the underlying
// transport... is out of scope" for the core. Dialer opens connections,
// throttles dial attempts with a token bucket the way mini-rpc's
// RateLimitMiddleware throttles RPC calls, and hands the resulting
// connection to a pool.Table as a freshly-inserted node. The core itself
// never dials — Dialer is the only thing in this module that does.
package dial

import (
	"context"
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"connreg/pool"
)

// Factory opens a connection to the given endpoint. Implementations
// typically wrap net.Dial or net.DialContext.
type Factory func(ctx context.Context, ip string, port uint16) (net.Conn, error)

// TCPFactory is the default Factory, dialing plain TCP.
func TCPFactory(ctx context.Context, ip string, port uint16) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(int(port))))
}

// Dialer opens connections for a pool.Table under a shared rate limit,
// keeping the net.Conn associated with each Node it creates so a caller
// who later gets that Node back from TimedGet can retrieve its transport.
type Dialer struct {
	factory Factory
	limiter *rate.Limiter
	table   *pool.Table

	mu    sync.Mutex
	conns map[*pool.Node]net.Conn
}

// New builds a Dialer. ratePerSec and burst configure the token bucket
// limiting dial attempts — mirroring mini-rpc's
// RateLimitMiddleware(r, burst), applied to outbound dials instead of
// inbound RPCs.
func New(factory Factory, ratePerSec float64, burst int, table *pool.Table) *Dialer {
	if factory == nil {
		factory = TCPFactory
	}
	return &Dialer{
		factory: factory,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		table:   table,
		conns:   make(map[*pool.Node]net.Conn),
	}
}

// Open dials a new connection to (ip, port), blocking on the rate limiter
// until a token is available or ctx is cancelled, then inserts a fresh
// Node for it into the Dialer's Table.
func (d *Dialer) Open(ctx context.Context, ip string, port uint16) (*pool.Node, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	conn, err := d.factory(ctx, ip, port)
	if err != nil {
		return nil, err
	}

	n, err := pool.NewNode(ip, port)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := d.table.Insert(n); err != nil {
		conn.Close()
		return nil, err
	}

	d.mu.Lock()
	d.conns[n] = conn
	d.mu.Unlock()
	return n, nil
}

// Conn retrieves the net.Conn associated with a node this Dialer opened.
func (d *Dialer) Conn(n *pool.Node) (net.Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[n]
	return c, ok
}

// Evict closes and forgets the connection behind n. Callers should do this
// after MarkFailed and Table.Remove, once a node is definitively retired.
func (d *Dialer) Evict(n *pool.Node) {
	d.mu.Lock()
	c, ok := d.conns[n]
	delete(d.conns, n)
	d.mu.Unlock()
	if ok {
		c.Close()
	}
}
