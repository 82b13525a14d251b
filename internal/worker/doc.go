// Package worker owns the backend service loop.
//
// Ownership boundary:
// - pooled peer attachment, one per worker goroutine
// - request dispatch to a Handler and identity-preserving replies
// - STOP handling via per-worker control subscriptions
//
// Workers deliberately outlive relay phases: TERMINATE stops a relay
// instance, STOP stops the workers.
package worker
