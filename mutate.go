package querycache

import (
	"context"
	"time"
)

// groupFor returns the group for e.key, creating an unsubscribed one so that
// mutations can seed data for keys nobody watches yet.
func (c *Client) groupFor(e *revalidator) (g *group, created bool) {
	if g = c.groups[e.key]; g != nil {
		return g, false
	}
	return c.newGroup(e.key, e.query, e.params), true
}

// staleMutation reports whether e is the result of a mutator whose
// mutation is no longer pending on its group.
func (c *Client) staleMutation(e *revalidator) bool {
	if e.mutation == 0 {
		return false
	}
	g := c.groups[e.key]
	return g == nil || g.gen != e.gen || g.pendingMutation != e.mutation
}

func (c *Client) mutateOptimistic(e *revalidator) {
	g, created := c.groupFor(e)
	if g.mutating {
		c.hooks.EventDropped(e.key, e.trigger, "mutating")
		return
	}
	c.preempt(g)
	g.mutating = true
	g.rollback, g.rollbackHas = g.snap.data, g.snap.hasData
	g.set(snapshot{status: StatusMutating, data: e.data, hasData: true})

	if e.runMutator && e.query.mutator != nil {
		g.mutationSeq++
		g.pendingMutation = g.mutationSeq
		go c.runMutation(pendingMutation{
			key:    g.key,
			gen:    g.gen,
			id:     g.pendingMutation,
			def:    e.query,
			params: e.params,
			local:  e.data,
		})
	}
	c.broadcast(g)
	if created {
		c.armEvict(g)
	}
}

func (c *Client) mutateSuccess(e *revalidator) {
	if c.staleMutation(e) {
		c.hooks.EventDropped(e.key, e.trigger, "stale_mutation")
		return
	}
	g, created := c.groupFor(e)
	c.preempt(g)
	data := e.data
	if e.patch != nil {
		data = e.patch(g.snap.data)
	}
	c.endMutation(g)
	g.cachedAt = time.Now()
	g.set(snapshot{status: StatusSuccess, data: data, hasData: true})
	c.broadcast(g)
	if created {
		c.armEvict(g)
	}
}

func (c *Client) mutateError(e *revalidator) {
	if c.staleMutation(e) {
		c.hooks.EventDropped(e.key, e.trigger, "stale_mutation")
		return
	}
	g, created := c.groupFor(e)
	c.preempt(g)
	data, has := g.snap.data, g.snap.hasData
	if g.mutating {
		data, has = g.rollback, g.rollbackHas
	}
	c.endMutation(g)
	g.set(snapshot{status: StatusMutateError, data: data, hasData: has, err: e.err})
	c.log.Debug("mutation rolled back", Fields{"key": g.key, "err": e.err})
	c.hooks.MutationRolledBack(g.key, e.err)
	c.broadcast(g)
	if created {
		c.armEvict(g)
	}
}

func (c *Client) endMutation(g *group) {
	g.mutating = false
	g.pendingMutation = 0
	g.rollback, g.rollbackHas = nil, false
}

type pendingMutation struct {
	key    string
	gen    uint64
	id     uint64
	def    *queryDef
	params any
	local  any
}

// runMutation resolves m off the loop and posts exactly one terminal event.
func (c *Client) runMutation(m pendingMutation) {
	v, err := c.callMutator(c.ctx, m)
	ev := &revalidator{
		key:      m.key,
		trigger:  TriggerMutateSuccess,
		params:   m.params,
		query:    m.def,
		data:     v,
		mutation: m.id,
		gen:      m.gen,
	}
	if err != nil {
		ev.trigger, ev.data, ev.err = TriggerMutateError, nil, err
	}
	c.post(ev)
}

func (c *Client) callMutator(ctx context.Context, m pendingMutation) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Key: m.key, Value: r}
		}
	}()
	return m.def.mutator(ctx, m.local, m.params)
}

// Set replaces the data for params and marks it successful.
func (q *Query[P, V]) Set(params P, v V) error {
	return q.emit(params, TriggerMutateSuccess, func(e *revalidator) { e.data = v })
}

// Mutate applies v. With a configured Mutator, v is shown optimistically and
// replaced by the mutator's result, or rolled back if it fails. Without one,
// Mutate behaves like Set. A Mutate issued while another mutation is pending
// on the same key is dropped.
func (q *Query[P, V]) Mutate(params P, v V) error {
	if q.def.mutator == nil {
		return q.Set(params, v)
	}
	return q.emit(params, TriggerMutateOptimistic, func(e *revalidator) {
		e.data = v
		e.runMutator = true
	})
}

// MutateOptimistic shows v immediately and suspends refetching for the key
// until MutateError, Set or Patch resolves it.
func (q *Query[P, V]) MutateOptimistic(params P, v V) error {
	return q.emit(params, TriggerMutateOptimistic, func(e *revalidator) { e.data = v })
}

// MutateError ends a pending mutation and restores the pre-mutation data.
func (q *Query[P, V]) MutateError(params P, err error) error {
	return q.emit(params, TriggerMutateError, func(e *revalidator) { e.err = err })
}

// Patch applies fn to the current data for params and marks the result successful.
func (q *Query[P, V]) Patch(params P, fn func(prev V) V) error {
	return q.emit(params, TriggerMutateSuccess, func(e *revalidator) {
		e.patch = func(prev any) any {
			p, _ := prev.(V)
			return fn(p)
		}
	})
}
