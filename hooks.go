package querycache

import "time"

// Hooks are lightweight callbacks for high-signal engine events.
// Implementations MUST be cheap, non-blocking and safe for concurrent use:
// the event loop calls most of them, invocation goroutines call RetryScheduled.
type Hooks interface {
	// An invocation was started for key, labeled StatusLoading or StatusRefreshing.
	InvocationStarted(key string, label Status)

	// A failed attempt will be retried after delay.
	RetryScheduled(key string, attempt int, delay time.Duration, err error)

	// An invocation reached its terminal state (StatusSuccess or StatusError).
	InvocationSettled(key string, status Status, retries int)

	// An event was not applied to group state.
	// reason ∈ {"mutating", "in_flight", "fresh", "stale_result", "no_group", "stale_mutation", "disabled"}
	EventDropped(key string, trigger Trigger, reason string)

	// A mutation failed and data was restored to its pre-mutation value.
	MutationRolledBack(key string, err error)

	// A group was removed.
	// reason ∈ {"grace_expired", "forced"}
	GroupEvicted(key string, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) InvocationStarted(string, Status)                 {}
func (NopHooks) RetryScheduled(string, int, time.Duration, error) {}
func (NopHooks) InvocationSettled(string, Status, int)            {}
func (NopHooks) EventDropped(string, Trigger, string)             {}
func (NopHooks) MutationRolledBack(string, error)                 {}
func (NopHooks) GroupEvicted(string, string)                      {}
