package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/wire"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
)

type memProvider struct {
	mu     sync.Mutex
	m      map[string][]byte
	reject bool
	getErr error
}

func newMem() *memProvider { return &memProvider{m: map[string][]byte{}} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	b, ok := p.m[key]
	return b, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = append([]byte(nil), value...)
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

type todo struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func newStore(t *testing.T, p *memProvider) *Store[int, todo] {
	t.Helper()
	s, err := New(Options[int, todo]{Namespace: "todo", Provider: p, Codec: codec.JSON[todo]{}})
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options[int, todo]{Namespace: "todo", Codec: codec.JSON[todo]{}})
	assert.Error(t, err)
	_, err = New(Options[int, todo]{Namespace: "todo", Provider: newMem()})
	assert.Error(t, err)
	_, err = New(Options[int, todo]{Provider: newMem(), Codec: codec.JSON[todo]{}})
	assert.Error(t, err)
}

func TestPutLookup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMem())
	fixed := time.Unix(1700000000, 42)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Put(ctx, 1, todo{Title: "a"}))
	e, err := s.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, todo{Title: "a"}, e.Value)
	assert.True(t, e.WrittenAt.Equal(fixed))

	v, err := s.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", v.Title)
}

func TestLookupMiss(t *testing.T) {
	s := newStore(t, newMem())
	_, err := s.Lookup(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, Retryable(err))
}

func TestLookupCorruptSelfHeals(t *testing.T) {
	ctx := context.Background()
	p := newMem()
	s := newStore(t, p)

	p.m["todo:1"] = []byte("not a record")
	_, err := s.Lookup(ctx, 1)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, p.has("todo:1"))

	// a well-formed record stored under the wrong key
	raw, err := wire.Encode(wire.Record{Key: "todo:2", WrittenAt: time.Now(), Payload: []byte(`{}`)})
	require.NoError(t, err)
	p.m["todo:1"] = raw
	_, err = s.Lookup(ctx, 1)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, p.has("todo:1"))

	raw, err = wire.Encode(wire.Record{Key: "todo:1", WrittenAt: time.Now(), Payload: []byte(`{`)})
	require.NoError(t, err)
	p.m["todo:1"] = raw
	_, err = s.Lookup(ctx, 1)
	assert.Error(t, err)
	assert.False(t, p.has("todo:1"))
}

func TestProviderErrorIsRetryable(t *testing.T) {
	p := newMem()
	p.getErr = errors.New("connection reset")
	s := newStore(t, p)

	_, err := s.Lookup(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, Retryable(err))

	retry := RetryIf(2)
	assert.True(t, retry(0, err))
	assert.True(t, retry(1, err))
	assert.False(t, retry(2, err))
	assert.False(t, retry(0, ErrNotFound))
}

func TestPutRejected(t *testing.T) {
	p := newMem()
	p.reject = true
	s := newStore(t, p)
	err := s.Put(context.Background(), 1, todo{})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = s.Mutate(context.Background(), todo{Title: "x"}, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMutatePersists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMem())
	got, err := s.Mutate(ctx, todo{Title: "b", Done: true}, 3)
	require.NoError(t, err)
	assert.Equal(t, todo{Title: "b", Done: true}, got)

	v, err := s.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, got, v)

	require.NoError(t, s.Delete(ctx, 3))
	_, err = s.Fetch(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomKey(t *testing.T) {
	p := newMem()
	s, err := New(Options[int, todo]{
		Namespace: "todo",
		Provider:  p,
		Codec:     codec.Msgpack[todo]{},
		Key:       func(id int) string { return "custom" },
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), 5, todo{Title: "m"}))
	assert.True(t, p.has("custom"))
}

func TestRistrettoProvider(t *testing.T) {
	rp, err := ristretto.New(ristretto.Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rp.Close(context.Background()) })

	s, err := New(Options[string, todo]{
		Namespace: "todo",
		Provider:  rp,
		Codec:     codec.MustCBOR[todo](false),
		Cost:      func(_ string, raw []byte) int64 { return int64(len(raw)) },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "r", todo{Title: "ristretto"}))
	v, err := s.Fetch(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "ristretto", v.Title)
}

func TestBigcacheProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp, err := bigcache.New(ctx, bigcache.Config{LifeWindow: time.Minute, MaxEntriesInWindow: 100, MaxEntrySize: 256})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bp.Close(context.Background()) })

	s, err := New(Options[string, todo]{Namespace: "todo", Provider: bp, Codec: codec.JSON[todo]{}})
	require.NoError(t, err)

	_, err = s.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "b", todo{Title: "bigcache"}))
	v, err := s.Fetch(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "bigcache", v.Title)

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "b"))
}
