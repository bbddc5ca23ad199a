// Package memory holds the append-only conversation record for one agent run.
//
// Invariants:
// - Records append strictly in step order; nothing is ever rewritten.
// - The orchestrator is the sole writer; appends happen between steps.
// - Reset keeps the system prompt and drops everything else.
package memory
