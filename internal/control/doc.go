// Package control owns the operator command feed.
//
// Ownership boundary:
// - textual command payloads and their typed decoding
// - one-publisher broadcast bus with bounded per-subscriber queues
//
// Subscribers poll; there is no delivery guarantee beyond best-effort
// broadcast, and repeated identical commands must be handled
// idempotently.
package control
