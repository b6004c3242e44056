// Package runtime provides the concurrent registry-and-dispatch engine at
// the heart of the host manager: a thread-safe network registry with
// deferred-removal drain, a dispatcher that turns synchronous run requests
// into asynchronous device executions with exactly-once completion
// callbacks, and the HostManager facade composing both over a fixed device
// pool.
package runtime
