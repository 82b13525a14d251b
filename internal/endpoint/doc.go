// Package endpoint owns the in-process exchange transport the relay
// pumps messages through.
//
// Ownership boundary:
// - routed/pooled endpoint handles and their addressing semantics
// - peer attach/detach and per-peer bounded inboxes
// - the TCP bridge that attaches remote clients as routed peers
//
// The relay owns its endpoints exclusively for the lifetime of a run;
// peers and the relay share no mutable state beyond message queues.
package endpoint
