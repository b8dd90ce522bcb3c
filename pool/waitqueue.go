package pool

import (
	"context"
	"sync"
	"time"
)

// waitQueue is the blocking wait path a pool hands to TimedGet when no
// node is claimable but the pool is not all-paths-down (spec.md §4.5's
// Busy case). It is a minimal single-wake notification list: each waiter
// registers a one-shot channel, and a release wakes exactly one — spec.md
// §9 is explicit that broadcast-on-release would thunder for a predicate
// that only needs "at least one idle."
//
// There is no fairness requirement (spec.md Non-goals); we happen to wake
// the oldest registered waiter first, which is a valid and simple choice.
type waitQueue struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// add registers a new waiter and returns its notification channel.
func (wq *waitQueue) add() chan struct{} {
	ch := make(chan struct{}, 1)
	wq.mu.Lock()
	wq.waiters = append(wq.waiters, ch)
	wq.mu.Unlock()
	return ch
}

// remove drops ch from the waiter list if it's still registered (used when
// a wait times out or is cancelled before being woken, so a stale entry
// doesn't linger and get fired into the void later).
func (wq *waitQueue) remove(ch chan struct{}) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for i, c := range wq.waiters {
		if c == ch {
			wq.waiters = append(wq.waiters[:i], wq.waiters[i+1:]...)
			return
		}
	}
}

// notifyOne wakes the oldest waiter, if any. Safe to call whether or not
// anyone is waiting — this is the "if waitqueue_active(wq), wake_up" check
// spec.md §4.3/§4.6 ask for, folded into the call itself.
func (wq *waitQueue) notifyOne() {
	wq.mu.Lock()
	if len(wq.waiters) == 0 {
		wq.mu.Unlock()
		return
	}
	ch := wq.waiters[0]
	wq.waiters = wq.waiters[1:]
	wq.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

// active reports whether any waiter is currently registered. Used by
// destroy to refuse tearing down a pool with pending waiters (spec.md §4.4
// "Destroy-refusal property").
func (wq *waitQueue) active() bool {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.waiters) > 0
}

// wait blocks on ch until woken, the timeout elapses, or ctx is done,
// whichever comes first. timeout < 0 waits indefinitely (still subject to
// ctx cancellation); timeout == 0 returns immediately without blocking.
// Returns true if woken, false on timeout/cancellation — in which case the
// waiter entry is removed so a later notifyOne can't reach a dead channel.
func (wq *waitQueue) wait(ctx context.Context, ch chan struct{}, timeout time.Duration) bool {
	if timeout == 0 {
		select {
		case <-ch:
			return true
		default:
			wq.remove(ch)
			return false
		}
	}

	if timeout < 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			wq.remove(ch)
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		wq.remove(ch)
		return false
	case <-ctx.Done():
		wq.remove(ch)
		return false
	}
}
