package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

// unreachable returns a client for a port nothing listens on.
func unreachable() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestTransportErrorsAreNotMisses(t *testing.T) {
	p, err := New(Config{Client: unreachable(), Prefix: "app:", CloseClient: true})
	require.NoError(t, err)
	defer p.Close(context.Background())

	ctx := context.Background()
	b, ok, err := p.Get(ctx, "todo:1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)
	assert.False(t, errors.Is(err, goredis.Nil))

	ok, err = p.Set(ctx, "todo:1", []byte("x"), 1, -time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCloseLeavesSharedClientOpen(t *testing.T) {
	c := unreachable()
	defer c.Close()
	p, err := New(Config{Client: c})
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	// the shared client is still usable; it fails on dial, not as closed
	err = c.Ping(context.Background()).Err()
	require.Error(t, err)
	assert.NotErrorIs(t, err, goredis.ErrClosed)
}
