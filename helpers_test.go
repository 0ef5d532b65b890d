package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func mustQuery[P, V any](t *testing.T, c *Client, name string, fetch FetchFunc[P, V], cfg Config[P, V]) *Query[P, V] {
	t.Helper()
	q, err := NewQuery(c, name, fetch, cfg)
	require.NoError(t, err)
	return q
}

// next returns the next output of s or fails the test.
func next[V any](t *testing.T, s *Subscription[V]) Output[V] {
	t.Helper()
	select {
	case out, ok := <-s.Updates():
		require.True(t, ok, "stream closed")
		return out
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for output")
	}
	return Output[V]{}
}

// until collects outputs up to and including the first with status.
func until[V any](t *testing.T, s *Subscription[V], status Status) []Output[V] {
	t.Helper()
	var outs []Output[V]
	for {
		out := next(t, s)
		outs = append(outs, out)
		if out.Status == status {
			return outs
		}
	}
}

// quiet asserts that s emits nothing for d.
func quiet[V any](t *testing.T, s *Subscription[V], d time.Duration) {
	t.Helper()
	select {
	case out, ok := <-s.Updates():
		if ok {
			t.Fatalf("unexpected output: %+v", out)
		}
	case <-time.After(d):
	}
}

// closed drains s and asserts its stream ends.
func closed[V any](t *testing.T, s *Subscription[V]) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-s.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream was not closed")
		}
	}
}

// counted wraps fetch and counts its calls.
type counted[P, V any] struct {
	calls atomic.Int32
	fn    FetchFunc[P, V]
}

func (c *counted[P, V]) fetch(ctx context.Context, p P) (V, error) {
	c.calls.Add(1)
	return c.fn(ctx, p)
}

func (c *counted[P, V]) n() int { return int(c.calls.Load()) }

// recHooks records hook calls for assertions.
type recHooks struct {
	NopHooks
	mu      sync.Mutex
	dropped map[string]int // "trigger/reason"
	evicted map[string]int // reason
	settled int
	retries int
}

func newRecHooks() *recHooks {
	return &recHooks{dropped: map[string]int{}, evicted: map[string]int{}}
}

func (h *recHooks) EventDropped(_ string, t Trigger, reason string) {
	h.mu.Lock()
	h.dropped[string(t)+"/"+reason]++
	h.mu.Unlock()
}

func (h *recHooks) GroupEvicted(_ string, reason string) {
	h.mu.Lock()
	h.evicted[reason]++
	h.mu.Unlock()
}

func (h *recHooks) InvocationSettled(string, Status, int) {
	h.mu.Lock()
	h.settled++
	h.mu.Unlock()
}

func (h *recHooks) RetryScheduled(string, int, time.Duration, error) {
	h.mu.Lock()
	h.retries++
	h.mu.Unlock()
}

func (h *recHooks) droppedCount(k string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped[k]
}

func (h *recHooks) evictedCount(reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evicted[reason]
}

func (h *recHooks) settledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settled
}
