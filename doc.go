// Package sensorstreams provides a multi-stream acquisition engine for
// independently-clocked, independently-sampled real-time sensor feeds
// (physiological, behavioral, or any timestamped multi-channel signal).
//
// # Architecture
//
// The engine is built from small, explicitly-wired packages:
//
//	┌─────────────────────────────────────┐
//	│          manager.Manager            │  discover → connect → start
//	│  (Latest, Status, Synchronize)      │  synchronous stop/join
//	└─────────────────────────────────────┘
//	           ↓ owns one per stream
//	┌─────────────────────────────────────┐
//	│        receiver.Receiver            │  connection + receive loop
//	│  (backoff connect, bounded pulls)   │  counters + ring buffer
//	└─────────────────────────────────────┘
//	           ↓ pulls from
//	┌─────────────────────────────────────┐
//	│        stream.Provider              │  opaque transport boundary
//	│ (synthetic, udpsource, natssource,  │
//	│  wssource)                          │
//	└─────────────────────────────────────┘
//
// Read-side collaborators never block reception: quality assessment
// (package quality), temporal alignment (package align), and the status
// surface all operate on short-lived snapshots of receiver state.
//
// # Ownership model
//
// Each stream's buffer and counters are mutated only by that stream's
// receive loop. Every other component reads copies. The manager's
// name→receiver map is guarded independently of any receiver's internals.
// There is no process-wide registry; a Manager is an explicitly
// constructed instance handed to its collaborators.
//
// # Observability
//
// All components log through log/slog and optionally register Prometheus
// metrics via metric.MetricsRegistry. Quality alerts are a bounded,
// pollable event list rather than callbacks.
package sensorstreams
