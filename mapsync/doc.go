// Package mapsync is the synchronization core for collaborative
// editing of geospatial features over a shared broadcast channel.
//
// Data flow, inbound: wire envelope -> clean -> feature store
// mutation -> reconciliation diff -> renderer calls. Outbound: local
// gesture on the renderer -> engine builds a feature -> optimistic
// store mutation -> publish.
//
// Everything runs on one dispatch goroutine owned by Client; a
// message is fully reconciled before the next is processed. The only
// cross-client consistency mechanism is the broadcast plus
// last-write-wins.
//
// Logging convention:
//
//	Info: essential events for abnormal behavior. Silent on normal
//	      operation: transport drops, decode failures, discarded
//	      envelopes, coerced geometry.
//	Error: unrecoverable crash details. Nothing in this package
//	      escalates wire input to Error.
//	V(2): per-message trace events: send, receive, reconcile ops.
//
// Log tags: [t] transport, [ch] channel, [c] client, [r] reconcile,
// [g] geometry, [l] loader.
package mapsync
