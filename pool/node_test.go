package pool

import "testing"

func TestNodeInitState(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	if n.State() != StateDown {
		t.Fatalf("got state %s, want DOWN before Insert", n.State())
	}
	if n.locked.Load() {
		t.Fatal("freshly initialized node must be unlocked")
	}
}

func TestMarkFailedRequiresLock(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic calling MarkFailed on an unlocked node")
		}
	}()
	n.MarkFailed()
}

func TestMarkFailedFromActive(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.locked.Store(true)
	n.state.Store(uint32(StateActive))

	n.MarkFailed()

	if n.State() != StateFailed {
		t.Fatalf("got state %s, want FAILED", n.State())
	}
	if n.locked.Load() {
		t.Fatal("MarkFailed must release the lock on return")
	}
}

func TestMarkRetryClaimsIdleNode(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.state.Store(uint32(StateReady))

	if !n.MarkRetry() {
		t.Fatal("MarkRetry should have claimed an idle READY node")
	}
	if n.State() != StateRetry {
		t.Fatalf("got state %s, want RETRY", n.State())
	}
	if n.locked.Load() {
		t.Fatal("MarkRetry must release the lock after transitioning, so a pool scan can still inspect a RETRY node and report AllPathsDown")
	}
	if n.RetryAttempts() != 1 {
		t.Fatalf("got %d retry attempts, want 1", n.RetryAttempts())
	}
}

func TestMarkRetryFailsOnNodeLockedByAnotherCaller(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a concurrent TimedGet already holding this node ACTIVE.
	n.locked.Store(true)
	n.state.Store(uint32(StateActive))

	if n.MarkRetry() {
		t.Fatal("MarkRetry must not claim a node already locked by another caller")
	}
	if n.State() != StateActive {
		t.Fatalf("got state %s, want unchanged ACTIVE", n.State())
	}
}

func TestMarkRetryNoopOnUnlockedNonReadyNode(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.state.Store(uint32(StateFailed))

	if n.MarkRetry() {
		t.Fatal("MarkRetry must not transition a non-READY node")
	}
	if n.locked.Load() {
		t.Fatal("MarkRetry must release the lock it claimed when declining a non-READY node")
	}
	if n.State() != StateFailed {
		t.Fatalf("got state %s, want unchanged FAILED", n.State())
	}
}

func TestMarkReadyFromRetry(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.state.Store(uint32(StateReady))
	if !n.MarkRetry() {
		t.Fatal("MarkRetry should have claimed the idle node")
	}

	if !n.MarkReady() {
		t.Fatal("MarkReady should have claimed the unlocked RETRY node")
	}
	if n.State() != StateReady {
		t.Fatalf("got state %s, want READY", n.State())
	}
	if n.locked.Load() {
		t.Fatal("MarkReady must release the lock on return")
	}
}

func TestMarkReadyNoopOnNonRetry(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.state.Store(uint32(StateDown))

	if n.MarkReady() {
		t.Fatal("MarkReady must not claim a non-RETRY node")
	}
	if n.State() != StateDown {
		t.Fatalf("got state %s, want unchanged DOWN", n.State())
	}
	if n.locked.Load() {
		t.Fatal("MarkReady must not leave the lock held on a no-op")
	}
}

func TestByteCounters(t *testing.T) {
	n, err := NewNode("10.0.0.1", 6379)
	if err != nil {
		t.Fatal(err)
	}
	n.AddTxBytes(100)
	n.AddTxBytes(50)
	n.AddRxBytes(200)

	if got := n.txBytes.Value(); got != 150 {
		t.Fatalf("got %d tx bytes, want 150", got)
	}
	if got := n.rxBytes.Value(); got != 200 {
		t.Fatalf("got %d rx bytes, want 200", got)
	}
}
