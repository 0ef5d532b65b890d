package querycache

import (
	"context"
	"math"
	"time"

	gen "github.com/unkn0wn-root/querycache/genstore"
)

// Status is the lifecycle label carried by every Output.
type Status string

const (
	StatusLoading     Status = "loading"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusRefreshing  Status = "refreshing"
	StatusMutating    Status = "mutating"
	StatusMutateError Status = "mutate-error"
)

// Trigger names the cause of a revalidation event.
type Trigger string

const (
	TriggerQuerySubscribe   Trigger = "query-subscribe"
	TriggerQueryUnsubscribe Trigger = "query-unsubscribe"
	TriggerGroupUnsubscribe Trigger = "group-unsubscribe"
	TriggerInterval         Trigger = "interval"
	TriggerFocus            Trigger = "focus"
	TriggerMutateOptimistic Trigger = "mutate-optimistic"
	TriggerMutateSuccess    Trigger = "mutate-success"
	TriggerMutateError      Trigger = "mutate-error"
)

const (
	// Forever as StaleTime keeps cached data fresh indefinitely and disables
	// automatic refetching.
	Forever time.Duration = math.MaxInt64
	// EvictImmediately as CacheTime drops a group as soon as its last
	// subscriber leaves.
	EvictImmediately time.Duration = -1
	// NoRetry as Retries disables retrying.
	NoRetry = -1
)

// FetchFunc loads the value for params. It runs outside the event loop and
// may block; ctx is cancelled when the client closes or the invocation is
// preempted by a mutation.
type FetchFunc[P, V any] func(ctx context.Context, params P) (V, error)

// MutatorFunc resolves an optimistic local value against the authoritative
// backend and returns the value to keep.
type MutatorFunc[P, V any] func(ctx context.Context, local V, params P) (V, error)

// Config tunes a single query. The zero value is usable; every field has a
// documented default.
type Config[P, V any] struct {
	Retries             int                               // 0 => 3; NoRetry disables
	RetryIf             func(attempt int, err error) bool // overrides Retries when set
	RetryDelay          time.Duration                     // 0 => retry immediately
	RetryDelayFunc      func(attempt int) time.Duration   // overrides RetryDelay when set
	RefetchInterval     time.Duration                     // 0 => disabled
	DisableFocusRefetch bool                              // default false => refetch on focus
	StaleTime           time.Duration                     // 0 => always stale; Forever => never
	CacheTime           time.Duration                     // 0 => 5m; EvictImmediately => no grace
	Mutator             MutatorFunc[P, V]                 // nil => mutations apply locally only
}

// Options configure a Client. All fields are optional.
type Options struct {
	Logger   Logger       // if nil, NopLogger is used
	Hooks    Hooks        // if nil, NopHooks is used
	GenStore gen.GenStore // nil => LocalGenStore (in-process)

	// GenCleanupInterval and GenRetention tune the default LocalGenStore.
	GenCleanupInterval time.Duration // 0 => 1h
	GenRetention       time.Duration // 0 => 24h
}

// Output is one observed state of a query.
type Output[V any] struct {
	Status  Status
	Data    V
	HasData bool
	Err     error
	Retries int

	mutate func(V)
	patch  func(func(V) V)
}

// Mutate sends a mutation for the key/params that produced this output.
// With a configured Mutator the value is applied optimistically first.
func (o Output[V]) Mutate(v V) {
	if o.mutate != nil {
		o.mutate(v)
	}
}

// Patch applies fn to the current data of the key/params that produced this
// output and publishes the result as a successful mutation.
func (o Output[V]) Patch(fn func(prev V) V) {
	if o.patch != nil {
		o.patch(fn)
	}
}

// New starts a client and its event loop. Close must be called to release it.
func New(opts Options) (*Client, error) {
	return newClient(opts)
}
