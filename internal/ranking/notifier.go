package ranking

import (
	"context"
	gosync "sync"
	"time"

	"backend-teamrun/internal/observability"
)

// Notifier is the wait primitive behind ranking subscriptions: one
// registered interest per outstanding subscriber, keyed by "event:<id>" or
// "room:<id>". Notify wakes every waiter for the key at once; a waiter
// that times out or is cancelled unregisters itself without touching the
// others. No busy polling anywhere: waiters block on a channel.
type Notifier struct {
	mu      gosync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{waiters: map[string]map[chan struct{}]struct{}{}}
}

// Notify wakes all current waiters for key. Waiters registered after the
// call wait for the next change.
func (n *Notifier) Notify(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[key] {
		close(ch)
	}
	delete(n.waiters, key)
}

// Await blocks until the key is notified, the timeout elapses, or ctx is
// done. It reports whether a change occurred; on false the caller serves
// the current snapshot anyway, so a slow race is never a lost update.
func (n *Notifier) Await(ctx context.Context, key string, timeout time.Duration) bool {
	ch := make(chan struct{})

	n.mu.Lock()
	if n.waiters[key] == nil {
		n.waiters[key] = map[chan struct{}]struct{}{}
	}
	n.waiters[key][ch] = struct{}{}
	n.mu.Unlock()

	observability.RankingWaitsTotal.Inc()
	started := time.Now()
	defer func() {
		observability.RankingWaitDuration.Observe(time.Since(started).Seconds())
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	n.mu.Lock()
	if set, ok := n.waiters[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(n.waiters, key)
		}
	}
	n.mu.Unlock()
	return false
}
