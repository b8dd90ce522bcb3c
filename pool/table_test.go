package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func mustInsert(t *testing.T, tbl *Table, ip string, port uint16) *Node {
	t.Helper()
	n, err := NewNode(ip, port)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Insert(n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestTimedGetNotFoundOnEmptyTable(t *testing.T) {
	tbl := NewTable(Config{})
	_, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	tbl := NewTable(Config{})
	mustInsert(t, tbl, "10.0.0.1", 6379)

	n, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.State() != StateActive {
		t.Fatalf("got state %s, want ACTIVE", n.State())
	}

	tbl.Put(n, OpGet)
	if n.State() != StateReady {
		t.Fatalf("got state %s, want READY after Put", n.State())
	}
	if n.Lookups() != 1 {
		t.Fatalf("got %d lookups, want 1", n.Lookups())
	}
}

func TestTimedGetNonBlockingBusyReturnsErrTimeout(t *testing.T) {
	tbl := NewTable(Config{})
	mustInsert(t, tbl, "10.0.0.1", 6379)

	n, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout on a zero-timeout contended scan", err)
	}

	tbl.Put(n, OpGet)
}

func TestTimedGetAllPathsDown(t *testing.T) {
	tbl := NewTable(Config{})
	n := mustInsert(t, tbl, "10.0.0.1", 6379)
	if !n.MarkRetry() {
		t.Fatal("MarkRetry should have claimed the freshly inserted READY node")
	}

	_, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if !errors.Is(err, ErrAllPathsDown) {
		t.Fatalf("got %v, want ErrAllPathsDown", err)
	}

	if !n.MarkReady() {
		t.Fatal("MarkReady should have reclaimed the RETRY node")
	}

	got, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Fatalf("got a different node after MarkReady")
	}
	tbl.Put(got, OpGet)
}

func TestTimedGetBlocksUntilRelease(t *testing.T) {
	tbl := NewTable(Config{})
	n := mustInsert(t, tbl, "10.0.0.1", 6379)

	held, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got *Node
	var gotErr error
	go func() {
		defer wg.Done()
		got, gotErr = tbl.TimedGet(context.Background(), "10.0.0.1", 6379, time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	tbl.Put(held, OpGet)
	wg.Wait()

	if gotErr != nil {
		t.Fatalf("blocked TimedGet returned %v", gotErr)
	}
	if got != n {
		t.Fatalf("blocked TimedGet returned a different node than was released")
	}
}

func TestTimedGetRespectsContextCancellation(t *testing.T) {
	tbl := NewTable(Config{})
	held := mustInsert(t, tbl, "10.0.0.1", 6379)
	if _, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tbl.TimedGet(ctx, "10.0.0.1", 6379, -1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout on context cancellation", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancellation took too long to be observed")
	}
	tbl.Put(held, OpGet)
}

func TestDestroyRefusesBusyPool(t *testing.T) {
	tbl := NewTable(Config{})
	mustInsert(t, tbl, "10.0.0.1", 6379)

	n, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}

	tbl.Destroy()
	if tbl.Peek("10.0.0.1", 6379) == nil {
		t.Fatalf("destroy removed a pool with an outstanding ACTIVE node")
	}

	tbl.Put(n, OpGet)
}

func TestDestroyRemovesIdlePools(t *testing.T) {
	tbl := NewTable(Config{})
	mustInsert(t, tbl, "10.0.0.1", 6379)

	tbl.Destroy()
	if tbl.Peek("10.0.0.1", 6379) != nil {
		t.Fatalf("destroy left a pool behind with no outstanding references")
	}
}

func TestRemoveRejectsActiveNode(t *testing.T) {
	tbl := NewTable(Config{})
	mustInsert(t, tbl, "10.0.0.1", 6379)

	n, err := tbl.TimedGet(context.Background(), "10.0.0.1", 6379, 0)
	if err != nil {
		t.Fatal(err)
	}

	// An ACTIVE node is still locked by its holder, so Remove sees it as
	// busy rather than reaching the ACTIVE invariant check.
	if err := tbl.Remove(n); !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy removing an ACTIVE (locked) node", err)
	}
	tbl.Put(n, OpGet)
}

func TestPeekDoesNotClaim(t *testing.T) {
	tbl := NewTable(Config{})
	n := mustInsert(t, tbl, "10.0.0.1", 6379)

	got := tbl.Peek("10.0.0.1", 6379)
	if got != n {
		t.Fatalf("Peek returned a different node")
	}
	if n.State() != StateReady {
		t.Fatalf("Peek mutated node state to %s", n.State())
	}
}

func TestInsertConcurrentRace(t *testing.T) {
	tbl := NewTable(Config{})

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			n, err := NewNode("10.0.0.1", 6379)
			if err != nil {
				t.Error(err)
				return
			}
			if err := tbl.Insert(n); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// All racing inserts must land in one pool: with a duplicate pool, the
	// pool Peek finds would hold only some of the nodes.
	if head := tbl.Peek("10.0.0.1", 6379); head == nil || head.pool.NrConnections() != goroutines {
		t.Fatalf("the endpoint's pool does not hold all %d racing inserts; a duplicate pool was linked", goroutines)
	}

	count := 0
	for n := tbl.Iter(); n != nil; {
		count++
		if err := tbl.Remove(n); err != nil {
			t.Fatal(err)
		}
		n.Destroy()
		n = tbl.Iter()
	}
	if count != goroutines {
		t.Fatalf("got %d nodes across racing inserts, want %d", count, goroutines)
	}
}

func TestNewNodeRejectsEmptyIP(t *testing.T) {
	if _, err := NewNode("", 1234); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestInsertRejectsUnparseableIP(t *testing.T) {
	tbl := NewTable(Config{})
	n := &Node{}
	if err := n.init("not-an-ip", 1234); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Insert(n); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}
