package querycache

import (
	"context"
	"sort"
	"sync"

	"github.com/gammazero/channelqueue"
	"github.com/hashicorp/go-multierror"

	gen "github.com/unkn0wn-root/querycache/genstore"
)

// busEvent marks values accepted by the revalidation bus.
type busEvent interface{ busEvent() }

// focusAll fans a focus trigger out to every subscribed group.
type focusAll struct{}

// inspect runs fn on the loop with read access to the group map.
type inspect struct {
	fn func(groups map[string]*group)
}

func (*revalidator) busEvent()     {}
func (invocationResult) busEvent() {}
func (evictTimeout) busEvent()     {}
func (intervalTick) busEvent()     {}
func (focusAll) busEvent()         {}
func (inspect) busEvent()          {}

// Client owns the group state of every query built on it. All state
// transitions are applied by a single goroutine reading one FIFO queue.
type Client struct {
	log   Logger
	hooks Hooks
	gens  gen.GenStore

	ctx    context.Context
	cancel context.CancelFunc

	bus *channelqueue.ChannelQueue[busEvent]

	// guards sends on the bus input against Close
	mu     sync.RWMutex
	in     chan<- busEvent
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	genErr    error // set by run before done is closed

	// owned by run
	groups map[string]*group
	live   map[*subscriber]*group
}

func newClient(opts Options) (*Client, error) {
	if opts.GenCleanupInterval < 0 {
		return nil, &ConfigError{Field: "GenCleanupInterval", Reason: "must not be negative"}
	}
	if opts.GenRetention < 0 {
		return nil, &ConfigError{Field: "GenRetention", Reason: "must not be negative"}
	}

	c := &Client{
		groups: make(map[string]*group),
		live:   make(map[*subscriber]*group),
		done:   make(chan struct{}),
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.GenStore != nil {
		c.gens = opts.GenStore
	} else {
		c.gens = gen.NewLocalGenStore(
			coalesce(opts.GenCleanupInterval, defaultGenSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.bus = channelqueue.New[busEvent](-1)
	c.in = c.bus.In()

	go c.run()
	return c, nil
}

// post enqueues ev on the bus. It reports false once the client is closed.
func (c *Client) post(ev busEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.in <- ev
	return true
}

func (c *Client) run() {
	defer close(c.done)
	for ev := range c.bus.Out() {
		c.apply(ev)
	}
	c.shutdown()
	// the loop is the only caller of Snapshot/Bump, so the store is closed here
	c.genErr = c.gens.Close(context.Background())
}

func (c *Client) apply(ev busEvent) {
	switch e := ev.(type) {
	case *revalidator:
		c.applyRevalidator(e)
	case invocationResult:
		c.applyResult(e)
	case evictTimeout:
		c.applyEvictTimeout(e)
	case intervalTick:
		c.applyIntervalTick(e)
	case focusAll:
		keys := make([]string, 0, len(c.groups))
		for k, g := range c.groups {
			if len(g.subs) > 0 && g.def.focus {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			g := c.groups[k]
			c.applyRevalidator(&revalidator{key: k, trigger: TriggerFocus, params: g.params, query: g.def})
		}
	case inspect:
		e.fn(c.groups)
	}
}

// shutdown runs on the loop after the bus drained.
func (c *Client) shutdown() {
	for _, g := range c.groups {
		c.stopEvict(g)
		c.stopInterval(g)
		c.preempt(g)
	}
	for s := range c.live {
		s.finish()
	}
	c.live = map[*subscriber]*group{}
	c.log.Debug("client stopped", Fields{"groups": len(c.groups)})
}

// Focus emits a focus trigger for every subscribed group whose query has
// focus refetching enabled. Wire it to the host's window-focus signal.
func (c *Client) Focus() error {
	if !c.post(focusAll{}) {
		return ErrClosed
	}
	return nil
}

// Keys returns the cache keys currently held, sorted.
func (c *Client) Keys() []string {
	var keys []string
	c.inspect(func(groups map[string]*group) {
		keys = make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
	})
	sort.Strings(keys)
	return keys
}

// inspect runs fn on the loop and waits for it.
// Returns false if the client closed first.
func (c *Client) inspect(fn func(map[string]*group)) bool {
	ran := make(chan struct{})
	if !c.post(inspect{fn: func(groups map[string]*group) {
		fn(groups)
		close(ran)
	}}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Close stops the event loop, cancels in-flight fetches and mutators, ends
// every subscription stream and closes the generation store. If ctx expires
// first, Close returns its error and the loop finishes the shutdown alone.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.in)
		c.mu.Unlock()
		c.cancel()
	})

	var errs *multierror.Error
	select {
	case <-c.done:
		if c.genErr != nil {
			errs = multierror.Append(errs, c.genErr)
		}
	case <-ctx.Done():
		// the loop closes the generation store once it drains
		errs = multierror.Append(errs, ctx.Err())
	}
	return errs.ErrorOrNil()
}
