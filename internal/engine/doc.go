// Package engine implements the in-process message-processing core: a
// per-message state machine driven through admission controls
// (deduplication, rate limiting, ordering) and transport phases (send,
// confirm, retry, dead-letter).
//
// # Overview
//
// A Processor owns the collaborators shared across messages
// (Deduplicator, RateLimiter, OrderingCoordinator, Scheduler) and a
// registry of live StateMachine instances, one per in-flight message.
// Submitting a message creates a StateMachine, arms its first
// auto-advance tick, and returns a future that resolves once the message
// reaches a terminal state.
//
// # Collaborators
//
// The wire broker/transport, persistence, and the message index are
// explicitly out of scope; this package models them only as the
// Transport/Broker interfaces in collaborator.go, for a surrounding
// service to implement.
package engine
