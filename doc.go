// Package querycache is a client-side data-fetching cache. A Query turns a
// name, parameters and a fetch function into a live stream of result states:
// concurrent subscribers of the same key share one group and one in-flight
// fetch, failures are retried, stale data is refreshed in the background
// (stale-while-revalidate) and mutations can be applied optimistically with
// rollback on failure.
//
// Components:
//   - Client: owns every group. A single goroutine applies all state
//     transitions (subscribe, unsubscribe, interval, focus, mutations,
//     fetch results) in FIFO order from one unbounded queue.
//   - Query[P, V]: typed entry point; builds cache keys and revalidation events.
//   - RetryPolicy: attempt ceiling or predicate, constant or computed delay.
//   - GenStore: per-key generation used to drop results of evicted groups.
//
// Keys:
//
//	<name>             - no params
//	<name>:<value>     - string, bool and numeric params
//	<name>:<digest>    - anything else (canonical CBOR, sha256 prefix)
//
// Usage:
//
//	client, _ := querycache.New(querycache.Options{})
//	defer client.Close(ctx)
//
//	todos, _ := querycache.NewQuery(client, "todo", fetchTodo, querycache.Config[int, Todo]{
//	    StaleTime: 30 * time.Second,
//	    Mutator:   saveTodo,
//	})
//	sub := todos.Subscribe(42)
//	defer sub.Close()
//	for out := range sub.Updates() {
//	    render(out.Status, out.Data, out.Err)
//	}
package querycache
