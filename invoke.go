package querycache

import (
	"context"
	"time"
)

// invocation is one logical fetch for a key, including its retries.
type invocation struct {
	key    string
	gen    uint64
	seq    uint64
	def    *queryDef
	params any
	label  Status
}

// invocationResult carries an interim or terminal state back to the loop.
// Data is only meaningful for StatusSuccess; the loop keeps the last
// known-good data for every other status.
type invocationResult struct {
	key      string
	gen      uint64
	seq      uint64
	status   Status
	data     any
	err      error
	retries  int
	terminal bool
}

// invoke runs the fetch for inv off the loop. A failed attempt that will be
// retried is reported once, under the invocation's label, so consumers never
// see a transient error between two attempts.
func (c *Client) invoke(ctx context.Context, inv invocation) {
	for attempt := 0; ; attempt++ {
		v, err := c.fetchOnce(ctx, inv)
		if err == nil {
			c.post(inv.result(StatusSuccess, v, nil, attempt, true))
			return
		}
		if ctx.Err() != nil {
			// preempted or closed; the loop is no longer waiting for this run
			return
		}
		if !inv.def.retry.ShouldRetry(attempt, err) {
			c.log.Warn("fetch failed", Fields{"key": inv.key, "retries": attempt, "err": err})
			c.post(inv.result(StatusError, nil, err, attempt, true))
			return
		}

		delay := inv.def.retry.Delay(attempt)
		c.hooks.RetryScheduled(inv.key, attempt, delay, err)
		c.post(inv.result(inv.label, nil, err, attempt, false))
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, inv invocation) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Key: inv.key, Value: r}
		}
	}()
	return inv.def.fetch(ctx, inv.params)
}

func (inv invocation) result(status Status, data any, err error, retries int, terminal bool) invocationResult {
	return invocationResult{
		key:      inv.key,
		gen:      inv.gen,
		seq:      inv.seq,
		status:   status,
		data:     data,
		err:      err,
		retries:  retries,
		terminal: terminal,
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
