// Command connreg-demo wires the registry's pieces together: a pool.Table,
// a rate-limited dial.Dialer, an optional discovery.Watcher backed by
// etcd, a health.Checker, and a periodic text dump — the configuration
// and CLI surface spec.md §1 explicitly leaves external.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"connreg/dial"
	"connreg/discovery"
	"connreg/dump"
	"connreg/health"
	"connreg/pool"
)

func main() {
	var (
		buckets      = flag.Int("buckets", 0, "bucket count for the connection table (0 = default)")
		etcdEndpoint = flag.String("etcd", "", "comma-separated etcd endpoints; empty disables discovery")
		serviceName  = flag.String("service", "demo", "service name to watch in etcd")
		dialRate     = flag.Float64("dial-rate", 10, "max dial attempts per second")
		dialBurst    = flag.Int("dial-burst", 5, "dial rate limiter burst size")
		healthPeriod = flag.Duration("health-period", 30*time.Second, "interval between health sweeps")
		dumpPeriod   = flag.Duration("dump-period", time.Minute, "interval between state dumps")
		dumpPath     = flag.String("dump-file", "", "file to write periodic dumps to; empty disables it")
	)
	flag.Parse()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("connreg-demo: failed to build logger: %v", err)
	}
	defer zlog.Sync()
	pool.SetLogger(zlog)

	table := pool.NewTable(pool.Config{Buckets: *buckets})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info("connreg-demo: shutting down")
		cancel()
	}()

	dialer := dial.New(nil, *dialRate, *dialBurst, table)

	checker := health.New(func(probeCtx context.Context, n *pool.Node) error {
		conn, ok := dialer.Conn(n)
		if !ok {
			return nil
		}
		d := net.Dialer{Timeout: 2 * time.Second}
		c, err := d.DialContext(probeCtx, conn.RemoteAddr().Network(), conn.RemoteAddr().String())
		if err != nil {
			return err
		}
		return c.Close()
	}, *healthPeriod, zlog)
	go checker.Run(ctx)

	if *etcdEndpoint != "" {
		endpoints := strings.Split(*etcdEndpoint, ",")
		watcher, err := discovery.NewWatcher(endpoints, *serviceName, table, zlog)
		if err != nil {
			zlog.Fatal("connreg-demo: failed to start discovery", zap.Error(err))
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("connreg-demo: discovery watcher exited", zap.Error(err))
			}
		}()
	}

	if *dumpPath != "" {
		f, err := os.Create(*dumpPath)
		if err != nil {
			zlog.Fatal("connreg-demo: failed to open dump file", zap.Error(err))
		}
		defer f.Close()
		periodic := dump.NewPeriodic(table, f, *dumpPeriod, zlog)
		go periodic.Run(ctx)
	}

	<-ctx.Done()
	table.Destroy()
}
