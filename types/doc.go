// Package types defines the shared data model and the unified error taxonomy
// used across the coordination core: agents, tasks, routing results, vote
// results, handoff and handshake records, and workflow results.
//
// All types here are serialization-friendly so callers can expose them
// remotely if needed; the core itself mandates no wire protocol.
package types
