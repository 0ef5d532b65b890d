package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/querycache"
)

type recorder struct {
	querycache.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) InvocationStarted(k string, _ querycache.Status) { r.add("started:" + k) }
func (r *recorder) GroupEvicted(k, reason string)                   { r.add("evicted:" + k + ":" + reason) }

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestForwardsAndDrains(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)
	h.InvocationStarted("a", querycache.StatusLoading)
	h.GroupEvicted("a", "forced")
	h.Close()

	assert.Equal(t, []string{"started:a", "evicted:a:forced"}, rec.list())
	assert.Zero(t, h.Dropped())
}

func TestDropsWhenFullOrClosed(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	// one event held by the worker, one queued, the rest dropped
	for i := 0; i < 5; i++ {
		h.InvocationStarted("k", querycache.StatusLoading)
		time.Sleep(time.Millisecond)
	}
	assert.GreaterOrEqual(t, h.Dropped(), uint64(3))

	close(rec.block)
	h.Close()
	h.Close()
	before := h.Dropped()
	h.GroupEvicted("k", "forced")
	assert.Equal(t, before+1, h.Dropped())
}
