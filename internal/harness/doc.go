// Package harness owns the load-driving bridge client.
//
// Ownership boundary:
// - TCP dial and identity handshake against the frontend bridge
// - interval-paced numbered requests and response collection
// - STOP handling via a control subscription
//
// The client is test tooling; nothing in the relay path depends on it.
package harness
