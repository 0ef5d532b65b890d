package querycache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy(t *testing.T) {
	err := errors.New("x")

	def := newRetryPolicy(0, nil, 0, nil)
	assert.True(t, def.ShouldRetry(2, err))
	assert.False(t, def.ShouldRetry(3, err))

	none := newRetryPolicy(NoRetry, nil, 0, nil)
	assert.False(t, none.ShouldRetry(0, err))

	pred := newRetryPolicy(1, func(n int, err error) bool { return n < 10 }, 0, nil)
	assert.True(t, pred.ShouldRetry(5, err), "predicate overrides the count")

	fixed := newRetryPolicy(3, nil, 20*time.Millisecond, nil)
	assert.Equal(t, 20*time.Millisecond, fixed.Delay(0))
	assert.Equal(t, 20*time.Millisecond, fixed.Delay(2))

	backoff := newRetryPolicy(3, nil, time.Hour, func(n int) time.Duration {
		return time.Duration(n-1) * time.Second
	})
	assert.Equal(t, time.Duration(0), backoff.Delay(0), "negative delays clamp to zero")
	assert.Equal(t, time.Second, backoff.Delay(2))
}
