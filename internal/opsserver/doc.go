// Package opsserver owns the operations HTTP surface.
//
// Ownership boundary:
// - health, relay status and drop-record endpoints
// - the Prometheus scrape endpoint
// - the control POST that bridges HTTP callers onto the command bus
//
// The server never touches relay internals directly; steering always
// goes through the broadcast bus like any other controller.
package opsserver
