// Package control implements the pause/resume channel for human-in-the-loop
// requests issued from inside a running step.
//
// Invariants:
// - At most one request is outstanding per run.
// - Requests outside an active step are misuse and always raise.
// - With no consumer attached, requests resolve through their declared
//   fallback and never block.
package control
