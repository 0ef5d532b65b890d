// Package asynchook moves querycache.Hooks calls off the event loop onto a
// bounded worker queue. Events that do not fit in the queue are dropped.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{DroppedEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := querycache.New(querycache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	inner   querycache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(inner querycache.Hooks, workers, qlen int) *Hooks {
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

// Close drains queued events and stops the workers. Events arriving after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full
// or the hooks were closed.
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

func (h *Hooks) InvocationStarted(k string, l querycache.Status) {
	h.try(func() { h.inner.InvocationStarted(k, l) })
}
func (h *Hooks) RetryScheduled(k string, n int, d time.Duration, err error) {
	h.try(func() { h.inner.RetryScheduled(k, n, d, err) })
}
func (h *Hooks) InvocationSettled(k string, s querycache.Status, n int) {
	h.try(func() { h.inner.InvocationSettled(k, s, n) })
}
func (h *Hooks) EventDropped(k string, t querycache.Trigger, r string) {
	h.try(func() { h.inner.EventDropped(k, t, r) })
}
func (h *Hooks) MutationRolledBack(k string, err error) {
	h.try(func() { h.inner.MutationRolledBack(k, err) })
}
func (h *Hooks) GroupEvicted(k, r string) { h.try(func() { h.inner.GroupEvicted(k, r) }) }
