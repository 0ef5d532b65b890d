package querycache

import (
	"context"
	"time"
)

// queryDef is the untyped form of a Query that the loop works with.
type queryDef struct {
	name      string
	fetch     func(ctx context.Context, params any) (any, error)
	mutator   func(ctx context.Context, local, params any) (any, error)
	retry     RetryPolicy
	staleTime time.Duration
	cacheTime time.Duration
	interval  time.Duration
	focus     bool
}

// revalidator is one trigger for one key.
type revalidator struct {
	key     string
	trigger Trigger
	params  any
	query   *queryDef
	data    any
	err     error

	sub     *subscriber
	release bool // end the subscriber stream on unsubscribe

	patch      func(prev any) any
	runMutator bool
	mutation   uint64 // nonzero for results of a mutator launched by the store
	gen        uint64
}

type evictTimeout struct {
	key string
	gen uint64
	seq uint64
}

type intervalTick struct {
	key string
	gen uint64
	seq uint64
}

// snapshot is the state delivered to subscribers.
type snapshot struct {
	status  Status
	data    any
	hasData bool
	err     error
	retries int
}

// subscriber is one consumer stream. Its fields are only touched by the loop.
type subscriber struct {
	id          string
	deliver     func(s snapshot, params any)
	end         func()
	lastVersion uint64
	ended       bool
}

func (s *subscriber) finish() {
	if s.ended {
		return
	}
	s.ended = true
	s.end()
}

// group is the live state shared by all subscribers of one key.
type group struct {
	key    string
	gen    uint64
	def    *queryDef
	params any
	subs   map[*subscriber]struct{}

	snap     snapshot
	version  uint64
	cachedAt time.Time

	evictTimer    *time.Timer
	evictSeq      uint64
	intervalTimer *time.Timer
	intervalSeq   uint64

	invokeSeq    uint64
	inflight     uint64
	cancelInvoke context.CancelFunc

	mutating        bool
	rollback        any
	rollbackHas     bool
	mutationSeq     uint64
	pendingMutation uint64
}

func (g *group) set(s snapshot) {
	g.snap = s
	g.version++
}

func (g *group) fresh(staleTime time.Duration) bool {
	if !g.snap.hasData || g.cachedAt.IsZero() {
		return false
	}
	if staleTime == Forever {
		return true
	}
	return time.Since(g.cachedAt) < staleTime
}

func (c *Client) newGroup(key string, def *queryDef, params any) *group {
	g, err := c.gens.Snapshot(c.ctx, key)
	if err != nil {
		c.log.Warn("gen snapshot error", Fields{"key": key, "err": err})
	}
	grp := &group{
		key:     key,
		gen:     g,
		def:     def,
		params:  params,
		subs:    make(map[*subscriber]struct{}),
		version: 1,
		snap:    snapshot{status: StatusLoading},
	}
	c.groups[key] = grp
	return grp
}

func (c *Client) applyRevalidator(e *revalidator) {
	c.log.Debug("revalidate", Fields{"key": e.key, "trigger": string(e.trigger)})
	switch e.trigger {
	case TriggerQuerySubscribe:
		c.subscribe(e)
	case TriggerQueryUnsubscribe:
		c.unsubscribe(e)
	case TriggerGroupUnsubscribe:
		g := c.groups[e.key]
		if g == nil {
			c.hooks.EventDropped(e.key, e.trigger, "no_group")
			return
		}
		c.evict(g, "forced")
	case TriggerInterval, TriggerFocus:
		c.revalidate(e)
	case TriggerMutateOptimistic:
		c.mutateOptimistic(e)
	case TriggerMutateSuccess:
		c.mutateSuccess(e)
	case TriggerMutateError:
		c.mutateError(e)
	}
}

func (c *Client) subscribe(e *revalidator) {
	if e.sub.ended {
		return
	}
	g := c.groups[e.key]
	if prev := c.live[e.sub]; prev != nil && prev != g {
		c.detach(prev, e.sub)
	}
	if g == nil {
		g = c.newGroup(e.key, e.query, e.params)
	}
	g.def, g.params = e.query, e.params
	c.stopEvict(g)

	g.subs[e.sub] = struct{}{}
	c.live[e.sub] = g
	e.sub.lastVersion = 0
	if len(g.subs) == 1 {
		c.armInterval(g)
	}

	switch {
	case g.mutating:
		c.hooks.EventDropped(e.key, e.trigger, "mutating")
	case g.inflight != 0:
		c.hooks.EventDropped(e.key, e.trigger, "in_flight")
	case g.fresh(e.query.staleTime):
		c.hooks.EventDropped(e.key, e.trigger, "fresh")
	default:
		c.startInvocation(g)
	}
	c.broadcast(g)
}

func (c *Client) unsubscribe(e *revalidator) {
	g, ok := c.live[e.sub]
	if e.release {
		delete(c.live, e.sub)
		e.sub.finish()
	} else if ok {
		c.live[e.sub] = nil
	}
	if g != nil {
		c.detach(g, e.sub)
	}
}

// detach removes s from g and starts the grace period once g is empty.
func (c *Client) detach(g *group, s *subscriber) {
	if _, ok := g.subs[s]; !ok {
		return
	}
	delete(g.subs, s)
	if len(g.subs) > 0 {
		return
	}
	c.stopInterval(g)
	c.armEvict(g)
}

func (c *Client) armEvict(g *group) {
	c.stopEvict(g)
	if g.def.cacheTime < 0 {
		c.evict(g, "grace_expired")
		return
	}
	key, gen, seq := g.key, g.gen, g.evictSeq
	g.evictTimer = time.AfterFunc(g.def.cacheTime, func() {
		c.post(evictTimeout{key: key, gen: gen, seq: seq})
	})
}

func (c *Client) stopEvict(g *group) {
	if g.evictTimer != nil {
		g.evictTimer.Stop()
		g.evictTimer = nil
	}
	g.evictSeq++
}

func (c *Client) applyEvictTimeout(e evictTimeout) {
	g := c.groups[e.key]
	if g == nil || g.gen != e.gen || g.evictSeq != e.seq || len(g.subs) > 0 {
		return
	}
	c.evict(g, "grace_expired")
}

// evict deletes g, fences off its outstanding invocation and mutator
// results by bumping the key generation, and ends any attached streams.
func (c *Client) evict(g *group, reason string) {
	c.stopEvict(g)
	c.stopInterval(g)
	c.preempt(g)
	delete(c.groups, g.key)
	if _, err := c.gens.Bump(c.ctx, g.key); err != nil {
		c.log.Error("gen bump error", Fields{"key": g.key, "err": err})
	}
	for s := range g.subs {
		delete(c.live, s)
		s.finish()
	}
	c.log.Debug("group evicted", Fields{"key": g.key, "reason": reason})
	c.hooks.GroupEvicted(g.key, reason)
}

func (c *Client) armInterval(g *group) {
	c.stopInterval(g)
	if g.def.interval <= 0 || g.def.staleTime == Forever {
		return
	}
	key, gen, seq := g.key, g.gen, g.intervalSeq
	g.intervalTimer = time.AfterFunc(g.def.interval, func() {
		c.post(intervalTick{key: key, gen: gen, seq: seq})
	})
}

func (c *Client) stopInterval(g *group) {
	if g.intervalTimer != nil {
		g.intervalTimer.Stop()
		g.intervalTimer = nil
	}
	g.intervalSeq++
}

func (c *Client) applyIntervalTick(e intervalTick) {
	g := c.groups[e.key]
	if g == nil || g.gen != e.gen || g.intervalSeq != e.seq || len(g.subs) == 0 {
		return
	}
	c.revalidate(&revalidator{key: g.key, trigger: TriggerInterval, params: g.params, query: g.def})
	c.armInterval(g)
}

// revalidate handles interval and focus triggers.
func (c *Client) revalidate(e *revalidator) {
	g := c.groups[e.key]
	switch {
	case g == nil:
		c.hooks.EventDropped(e.key, e.trigger, "no_group")
		return
	case g.mutating:
		c.hooks.EventDropped(e.key, e.trigger, "mutating")
		return
	case g.inflight != 0:
		c.hooks.EventDropped(e.key, e.trigger, "in_flight")
		return
	case e.trigger == TriggerFocus && !g.def.focus:
		c.hooks.EventDropped(e.key, e.trigger, "disabled")
		return
	case e.trigger == TriggerFocus && g.fresh(g.def.staleTime),
		e.trigger == TriggerInterval && g.def.staleTime == Forever:
		c.hooks.EventDropped(e.key, e.trigger, "fresh")
		return
	}
	c.startInvocation(g)
	c.broadcast(g)
}

func (c *Client) startInvocation(g *group) {
	label := StatusLoading
	if g.snap.hasData {
		label = StatusRefreshing
	}
	g.invokeSeq++
	g.inflight = g.invokeSeq
	ctx, cancel := context.WithCancel(c.ctx)
	g.cancelInvoke = cancel
	g.set(snapshot{status: label, data: g.snap.data, hasData: g.snap.hasData})

	c.hooks.InvocationStarted(g.key, label)
	go c.invoke(ctx, invocation{
		key:    g.key,
		gen:    g.gen,
		seq:    g.inflight,
		def:    g.def,
		params: g.params,
		label:  label,
	})
}

// preempt abandons the in-flight invocation of g, if any.
func (c *Client) preempt(g *group) {
	if g.cancelInvoke != nil {
		g.cancelInvoke()
		g.cancelInvoke = nil
	}
	g.inflight = 0
}

func (c *Client) applyResult(r invocationResult) {
	g := c.groups[r.key]
	if g == nil || g.gen != r.gen || g.inflight != r.seq {
		c.hooks.EventDropped(r.key, "", "stale_result")
		return
	}
	next := snapshot{
		status:  r.status,
		data:    g.snap.data,
		hasData: g.snap.hasData,
		err:     r.err,
		retries: r.retries,
	}
	if r.status == StatusSuccess {
		next.data, next.hasData = r.data, true
	}
	if r.terminal {
		c.preempt(g)
		if r.status == StatusSuccess {
			g.cachedAt = time.Now()
		}
		c.hooks.InvocationSettled(g.key, r.status, r.retries)
	}
	g.set(next)
	c.broadcast(g)
}

// broadcast delivers the current snapshot of g to subscribers that have
// not seen this version yet.
func (c *Client) broadcast(g *group) {
	for s := range g.subs {
		if s.lastVersion == g.version {
			continue
		}
		s.lastVersion = g.version
		s.deliver(g.snap, g.params)
	}
}
