// Package source provides fetch and mutator functions for queries whose
// authoritative data lives in a provider.Provider (ristretto, bigcache, redis
// or any byte store). Values are serialized by a codec.Codec and framed with
// the cache key so foreign bytes are detected.
//
//	st, _ := source.New(source.Options[int, Todo]{
//	    Namespace: "todo",
//	    Provider:  rp,
//	    Codec:     codec.JSON[Todo]{},
//	})
//	q, _ := querycache.NewQuery(client, "todo", st.Fetch, querycache.Config[int, Todo]{
//	    Mutator: st.Mutate,
//	    RetryIf: source.RetryIf(3),
//	})
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/keys"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
)

var (
	ErrNotFound = errors.New("source: not found")
	ErrRejected = errors.New("source: provider rejected write")
	ErrCorrupt  = wire.ErrCorrupt
)

// Options configure a Store. Namespace, Provider and Codec are required.
type Options[P, V any] struct {
	Namespace string
	Provider  pr.Provider
	Codec     codec.Codec[V]

	Key  func(P) string // nil => derived from Namespace and params like query keys
	TTL  time.Duration  // 0 => no expiry
	Cost func(key string, raw []byte) int64
}

// Store reads and writes one namespace of query values.
type Store[P, V any] struct {
	ns    string
	p     pr.Provider
	codec codec.Codec[V]
	key   func(P) string
	ttl   time.Duration
	cost  func(string, []byte) int64
	now   func() time.Time
}

func New[P, V any](opts Options[P, V]) (*Store[P, V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("source: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("source: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("source: namespace is required")
	}
	s := &Store[P, V]{
		ns:    opts.Namespace,
		p:     opts.Provider,
		codec: opts.Codec,
		key:   opts.Key,
		ttl:   opts.TTL,
		cost:  opts.Cost,
		now:   time.Now,
	}
	if s.key == nil {
		s.key = func(p P) string { return keys.Encode(s.ns, p) }
	}
	if s.cost == nil {
		s.cost = func(string, []byte) int64 { return 1 }
	}
	return s, nil
}

// Entry is a stored value with its write time.
type Entry[V any] struct {
	Value     V
	WrittenAt time.Time
}

// Lookup returns the stored entry for params. Corrupt entries are deleted
// and reported as ErrCorrupt.
func (s *Store[P, V]) Lookup(ctx context.Context, params P) (Entry[V], error) {
	k := s.key(params)
	raw, ok, err := s.p.Get(ctx, k)
	if err != nil {
		return Entry[V]{}, fmt.Errorf("source: get %q: %w", k, err)
	}
	if !ok {
		return Entry[V]{}, fmt.Errorf("%w: %q", ErrNotFound, k)
	}
	rec, err := wire.Decode(raw)
	if err == nil && rec.Key != k {
		err = wire.ErrCorrupt
	}
	if err != nil {
		_ = s.p.Del(ctx, k) // self-heal
		return Entry[V]{}, fmt.Errorf("source: %q: %w", k, err)
	}
	v, err := s.codec.Decode(rec.Payload)
	if err != nil {
		_ = s.p.Del(ctx, k)
		return Entry[V]{}, fmt.Errorf("source: decode %q: %w", k, err)
	}
	return Entry[V]{Value: v, WrittenAt: rec.WrittenAt}, nil
}

// Fetch has the querycache.FetchFunc shape.
func (s *Store[P, V]) Fetch(ctx context.Context, params P) (V, error) {
	e, err := s.Lookup(ctx, params)
	return e.Value, err
}

// Put writes v for params.
func (s *Store[P, V]) Put(ctx context.Context, params P, v V) error {
	k := s.key(params)
	payload, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("source: encode %q: %w", k, err)
	}
	raw, err := wire.Encode(wire.Record{Key: k, WrittenAt: s.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("source: frame %q: %w", k, err)
	}
	ok, err := s.p.Set(ctx, k, raw, s.cost(k, raw), s.ttl)
	if err != nil {
		return fmt.Errorf("source: set %q: %w", k, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrRejected, k)
	}
	return nil
}

// Mutate has the querycache.MutatorFunc shape: it persists local and
// returns it as the authoritative value.
func (s *Store[P, V]) Mutate(ctx context.Context, local V, params P) (V, error) {
	if err := s.Put(ctx, params, local); err != nil {
		var zero V
		return zero, err
	}
	return local, nil
}

// Delete removes the stored value for params.
func (s *Store[P, V]) Delete(ctx context.Context, params P) error {
	return s.p.Del(ctx, s.key(params))
}

// Retryable reports whether err may succeed on another attempt. Misses and
// corrupt records are permanent.
func Retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt)
}

// RetryIf builds a querycache retry predicate that retries transient
// provider errors up to max times.
func RetryIf(max int) func(attempt int, err error) bool {
	return func(attempt int, err error) bool {
		return attempt < max && Retryable(err)
	}
}
