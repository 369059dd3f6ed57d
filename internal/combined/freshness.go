package combined

import (
	gosync "sync"
	"time"
)

// freshness is a bounded map from run id to the time the server copy was
// last verified. It replaces the ad hoc "recently seen" list: entries are
// explicit, capped, and evicted oldest-first.
type freshness struct {
	mu      gosync.Mutex
	cap     int
	ttl     time.Duration
	entries map[int64]time.Time
	now     func() time.Time
}

func newFreshness(cap int, ttl time.Duration) *freshness {
	if cap <= 0 {
		cap = 64
	}
	return &freshness{
		cap:     cap,
		ttl:     ttl,
		entries: map[int64]time.Time{},
		now:     time.Now,
	}
}

func (f *freshness) mark(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) >= f.cap {
		if _, ok := f.entries[id]; !ok {
			f.evictOldest()
		}
	}
	f.entries[id] = f.now()
}

func (f *freshness) fresh(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.entries[id]
	if !ok {
		return false
	}
	return f.now().Sub(at) < f.ttl
}

func (f *freshness) forget(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

func (f *freshness) evictOldest() {
	var oldest int64
	var oldestAt time.Time
	first := true
	for id, at := range f.entries {
		if first || at.Before(oldestAt) {
			oldest, oldestAt, first = id, at, false
		}
	}
	if !first {
		delete(f.entries, oldest)
	}
}
