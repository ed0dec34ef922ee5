// Package asynchook moves hook calls off the cache's hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{DedupEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := qcache.New(qcache.Options{Hooks: hooks})
//
// Events are dropped, never blocked on, when the queue is full; Dropped
// reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/qcache"
)

type Hooks struct {
	inner   qcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ qcache.Hooks = (*Hooks)(nil)

func New(inner qcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchDeduplicated(k string) { h.try(func() { h.inner.FetchDeduplicated(k) }) }
func (h *Hooks) FetchDiscarded(k, r string) { h.try(func() { h.inner.FetchDiscarded(k, r) }) }
func (h *Hooks) Evicted(k, r string)        { h.try(func() { h.inner.Evicted(k, r) }) }
func (h *Hooks) GenStoreError(k string, err error) {
	h.try(func() { h.inner.GenStoreError(k, err) })
}
func (h *Hooks) FetchFailed(k string, attempts int, err error) {
	h.try(func() { h.inner.FetchFailed(k, attempts, err) })
}
func (h *Hooks) MutationRolledBack(name string, restored int, err error) {
	h.try(func() { h.inner.MutationRolledBack(name, restored, err) })
}
