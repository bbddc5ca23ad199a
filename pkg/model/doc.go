// Package model defines the provider contract for LLM backends and the
// message, tool-call, and usage types exchanged with them.
//
// Invariants:
// - A Provider is called exactly once per logical generation; retries,
//   queueing, and failover belong to provider implementations.
// - Tool arguments cross the boundary as decoded JSON objects, never raw text.
package model
