package querycache

import (
	"context"
	"sync"

	"github.com/gammazero/channelqueue"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/querycache/internal/keys"
)

// Query binds a name, a fetch function and a Config to a Client.
// P is the parameter type, V the fetched value type.
type Query[P, V any] struct {
	c    *Client
	name string
	def  *queryDef
}

// NewQuery validates cfg and registers nothing until the first Subscribe.
func NewQuery[P, V any](c *Client, name string, fetch FetchFunc[P, V], cfg Config[P, V]) (*Query[P, V], error) {
	if c == nil {
		return nil, &ConfigError{Field: "client", Reason: "is required"}
	}
	if name == "" {
		return nil, &ConfigError{Field: "name", Reason: "is required"}
	}
	if fetch == nil {
		return nil, &ConfigError{Field: "fetch", Reason: "is required"}
	}
	if cfg.Retries < NoRetry {
		return nil, &ConfigError{Field: "Retries", Reason: "must be >= -1"}
	}
	if cfg.RetryDelay < 0 {
		return nil, &ConfigError{Field: "RetryDelay", Reason: "must not be negative"}
	}
	if cfg.RefetchInterval < 0 {
		return nil, &ConfigError{Field: "RefetchInterval", Reason: "must not be negative"}
	}
	if cfg.StaleTime < 0 {
		return nil, &ConfigError{Field: "StaleTime", Reason: "must not be negative"}
	}
	if cfg.CacheTime < 0 && cfg.CacheTime != EvictImmediately {
		return nil, &ConfigError{Field: "CacheTime", Reason: "must be >= 0 or EvictImmediately"}
	}

	def := &queryDef{
		name: name,
		fetch: func(ctx context.Context, params any) (any, error) {
			p, _ := params.(P)
			return fetch(ctx, p)
		},
		retry:     newRetryPolicy(cfg.Retries, cfg.RetryIf, cfg.RetryDelay, cfg.RetryDelayFunc),
		staleTime: cfg.StaleTime,
		cacheTime: coalesce(cfg.CacheTime, defaultCacheTime),
		interval:  cfg.RefetchInterval,
		focus:     !cfg.DisableFocusRefetch,
	}
	if m := cfg.Mutator; m != nil {
		def.mutator = func(ctx context.Context, local, params any) (any, error) {
			l, _ := local.(V)
			p, _ := params.(P)
			return m(ctx, l, p)
		}
	}
	return &Query[P, V]{c: c, name: name, def: def}, nil
}

// Key returns the cache key for params.
func (q *Query[P, V]) Key(params P) string {
	return keys.Encode(q.name, params)
}

// Subscribe joins the group for params and streams its states until the
// subscription is closed or the client shuts down.
func (q *Query[P, V]) Subscribe(params P) *Subscription[V] {
	s := q.newSubscription()
	if !s.post(q.subscribeEvent(s.sub, params)) {
		s.abandon()
	}
	return s
}

// Watch follows a stream of parameters. Each distinct key moves the
// subscription to that key's group; repeated params with the same key are
// ignored. The stream ends when ctx is done, params is closed, the
// subscription is closed or the client shuts down.
func (q *Query[P, V]) Watch(ctx context.Context, params <-chan P) *Subscription[V] {
	s := q.newSubscription()
	go func() {
		var current string
		attached := false
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-s.closing:
				return
			case <-q.c.done:
				s.Close()
				return
			case p, ok := <-params:
				if !ok {
					s.Close()
					return
				}
				k := q.Key(p)
				if attached && k == current {
					continue
				}
				if attached {
					s.post(&revalidator{key: current, trigger: TriggerQueryUnsubscribe, sub: s.sub})
				}
				if !s.post(q.subscribeEvent(s.sub, p)) {
					s.abandon()
					return
				}
				current, attached = k, true
			}
		}
	}()
	return s
}

// Revalidate emits an external interval or focus trigger for params.
func (q *Query[P, V]) Revalidate(params P, t Trigger) error {
	if t != TriggerInterval && t != TriggerFocus {
		return ErrUnsupportedTrigger
	}
	return q.emit(params, t, nil)
}

// Reset tears the group for params down immediately, ignoring the grace
// period. Streams attached to it end.
func (q *Query[P, V]) Reset(params P) error {
	return q.emit(params, TriggerGroupUnsubscribe, nil)
}

func (q *Query[P, V]) emit(params P, t Trigger, fill func(*revalidator)) error {
	e := &revalidator{key: q.Key(params), trigger: t, params: params, query: q.def}
	if fill != nil {
		fill(e)
	}
	if !q.c.post(e) {
		return ErrClosed
	}
	return nil
}

func (q *Query[P, V]) subscribeEvent(s *subscriber, params P) *revalidator {
	return &revalidator{
		key:     q.Key(params),
		trigger: TriggerQuerySubscribe,
		params:  params,
		query:   q.def,
		sub:     s,
	}
}

func (q *Query[P, V]) output(s snapshot, params P) Output[V] {
	v, _ := s.data.(V)
	return Output[V]{
		Status:  s.status,
		Data:    v,
		HasData: s.hasData,
		Err:     s.err,
		Retries: s.retries,
		mutate:  func(nv V) { _ = q.Mutate(params, nv) },
		patch:   func(fn func(V) V) { _ = q.Patch(params, fn) },
	}
}

func (q *Query[P, V]) newSubscription() *Subscription[V] {
	cq := channelqueue.New[Output[V]](-1)
	in := cq.In()
	s := &Subscription[V]{
		c:       q.c,
		id:      uuid.NewString(),
		out:     cq.Out(),
		closing: make(chan struct{}),
	}
	s.sub = &subscriber{
		id: s.id,
		deliver: func(snap snapshot, params any) {
			p, _ := params.(P)
			in <- q.output(snap, p)
		},
		end: func() { close(in) },
	}
	return s
}

// Subscription is one consumer of a query. Updates is closed after Close,
// after a forced Reset of its group, or when the client shuts down.
type Subscription[V any] struct {
	c       *Client
	id      string
	sub     *subscriber
	out     <-chan Output[V]
	closing chan struct{}
	once    sync.Once

	// attached is set once the loop has accepted an event for sub; from
	// then on only the loop may finish it.
	mu       sync.Mutex
	attached bool
}

// ID is a unique identifier for log correlation.
func (s *Subscription[V]) ID() string { return s.id }

// Updates streams states in the order the client applied them.
func (s *Subscription[V]) Updates() <-chan Output[V] { return s.out }

// Close leaves the group. In-flight fetches are not cancelled.
func (s *Subscription[V]) Close() {
	s.once.Do(func() {
		close(s.closing)
		if !s.post(&revalidator{trigger: TriggerQueryUnsubscribe, sub: s.sub, release: true}) {
			s.abandon()
		}
	})
}

func (s *Subscription[V]) post(ev *revalidator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.c.post(ev) {
		return false
	}
	s.attached = true
	return true
}

// abandon ends the stream of a subscription the loop never saw. It is
// only called after a failed post, so the client is closed for good.
func (s *Subscription[V]) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		s.sub.finish()
	}
}
