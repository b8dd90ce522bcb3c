package stat

import (
	"sync"
	"testing"
)

func TestCounterIncAndAdd(t *testing.T) {
	c := New()
	c.Inc()
	c.Inc()
	c.Add(5)

	if got := c.Value(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestCounterReset(t *testing.T) {
	c := New()
	c.Add(42)

	prev := c.Reset()
	if prev != 42 {
		t.Fatalf("Reset returned %d, want the pre-reset value 42", prev)
	}
	if got := c.Value(); got != 0 {
		t.Fatalf("got %d after Reset, want 0", got)
	}
}

func TestCounterConcurrentIncrements(t *testing.T) {
	c := New()
	const goroutines = 100
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	if got, want := c.Value(), int64(goroutines*perGoroutine); got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}
