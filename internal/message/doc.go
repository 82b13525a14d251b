// Package message owns the multi-part message model moved by the relay.
//
// Ownership boundary:
// - Frame/Message shapes and envelope helpers
// - per-message limits and rejection errors
// - stream wire codec used by the TCP frontend bridge
package message
