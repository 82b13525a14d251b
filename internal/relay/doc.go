// Package relay owns the steerable relay core.
//
// Ownership boundary:
// - the single-goroutine tick loop multiplexing frontend, backend and
//   control readiness
// - bounded retry of backpressured forwards and the drop taxonomy
// - per-instance lifecycle (Running -> Terminated) and counters
//
// A relay instance owns its two endpoints exclusively while running.
// Sequential phases over the same endpoint handles are supported by
// setting LeaveEndpointsOpen on all but the final phase; phases never
// run concurrently.
package relay
