// Package discovery keeps a pool.Table in sync with the service instances
// an etcd cluster reports, mirroring mini-rpc's registry.Registry /
// EtcdRegistry: instances are stored under /connreg/{serviceName}/{addr}
// and watched via etcd's server-push Watch API. Where EtcdRegistry served
// a client picking one instance per call, Watcher instead feeds the
// connection pool registry — every instance the service reports becomes a
// Node inserted into the Table, and every instance that disappears is
// removed.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"connreg/pool"
)

// Instance is the JSON-encoded value stored under each service key, the
// same shape as mini-rpc's registry.ServiceInstance.
type Instance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`
	Version string `json:"version"`
}

// Watcher watches a service's instance prefix in etcd and drives Insert
// and Remove calls against a pool.Table as instances come and go.
type Watcher struct {
	client      *clientv3.Client
	table       *pool.Table
	serviceName string
	log         *zap.Logger

	mu    sync.Mutex
	nodes map[string]*pool.Node // addr -> the Node currently inserted for it
}

// NewWatcher connects to the given etcd endpoints and returns a Watcher
// ready to sync serviceName's instances into table.
func NewWatcher(endpoints []string, serviceName string, table *pool.Table, log *zap.Logger) (*Watcher, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		client:      c,
		table:       table,
		serviceName: serviceName,
		log:         log,
		nodes:       make(map[string]*pool.Node),
	}, nil
}

func (w *Watcher) prefix() string {
	return "/connreg/" + w.serviceName + "/"
}

// Run performs an initial sync, then watches for changes until ctx is
// cancelled. It does not return until the watch loop ends.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.sync(ctx); err != nil {
		return err
	}

	watchChan := w.client.Watch(ctx, w.prefix(), clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watchChan:
			if !ok {
				return nil
			}
			if err := w.sync(ctx); err != nil {
				w.log.Error("discovery sync failed", zap.Error(err))
			}
		}
	}
}

// sync re-fetches the full instance list and reconciles it against what's
// currently inserted: new addresses get a fresh Node, vanished addresses
// get removed and destroyed.
func (w *Watcher) sync(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.prefix(), clientv3.WithPrefix())
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			w.log.Error("discovery: malformed instance, skipping", zap.ByteString("key", kv.Key))
			continue
		}
		seen[inst.Addr] = struct{}{}
		w.ensureInserted(inst.Addr)
	}

	w.mu.Lock()
	stale := make([]string, 0)
	for addr := range w.nodes {
		if _, ok := seen[addr]; !ok {
			stale = append(stale, addr)
		}
	}
	w.mu.Unlock()

	for _, addr := range stale {
		w.removeInstance(addr)
	}
	return nil
}

func (w *Watcher) ensureInserted(addr string) {
	w.mu.Lock()
	if _, ok := w.nodes[addr]; ok {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ip, port, err := splitAddr(addr)
	if err != nil {
		w.log.Error("discovery: skipping instance with unparseable address", zap.String("addr", addr), zap.Error(err))
		return
	}

	n, err := pool.NewNode(ip, port)
	if err != nil {
		w.log.Error("discovery: failed to init node", zap.String("addr", addr), zap.Error(err))
		return
	}
	if err := w.table.Insert(n); err != nil {
		w.log.Error("discovery: failed to insert node", zap.String("addr", addr), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.nodes[addr] = n
	w.mu.Unlock()
	w.log.Info("discovery: instance added", zap.String("addr", addr))
}

func (w *Watcher) removeInstance(addr string) {
	w.mu.Lock()
	n, ok := w.nodes[addr]
	if ok {
		delete(w.nodes, addr)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.table.Remove(n); err != nil {
		// Busy: the node is checked out right now. Leave it registered so
		// a later sync retries the removal once it's returned.
		w.mu.Lock()
		w.nodes[addr] = n
		w.mu.Unlock()
		w.log.Debug("discovery: deferring removal of busy instance", zap.String("addr", addr))
		return
	}
	n.Destroy()
	w.log.Info("discovery: instance removed", zap.String("addr", addr))
}

func splitAddr(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, uint16(port), nil
}

// Close releases the underlying etcd client connection.
func (w *Watcher) Close() error {
	return w.client.Close()
}
