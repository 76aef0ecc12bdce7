// Package dispatch bridges synchronous callers with the Studio plugin, a
// worker that can only pull work over HTTP and push results back later.
//
// A caller hands Execute a set of tool arguments. The dispatcher assigns an
// id, appends the call to a FIFO queue, registers a one-shot result channel
// under that id and wakes any waiting pollers. The caller then blocks until
// the plugin posts a result with the same id, or until its context ends.
//
// The plugin long-polls Pickup. If the queue is empty the poll waits on the
// change notifier for at most the configured poll timeout (15s by default)
// and returns ErrPollTimeout when nothing arrived.
//
// Submit routes a result to the waiting caller:
//   - unknown or already delivered id → ErrUnknownID
//   - caller already gone → DeliveryDropped
//   - otherwise → DeliveryDelivered
//
// Queue, correlation table and notifier share a single mutex. The lock is
// never held while waiting.
package dispatch
