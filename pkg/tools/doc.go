// Package tools manages the tool registry and dispatches batches of tool
// calls with bounded concurrency.
//
// Invariants:
// - Dispatch output order always matches call order, never completion order.
// - One failing call never prevents its siblings from completing.
// - Unknown tools and invalid arguments become structured observations, not
//   errors.
// - Only the final_answer tool can mark an output as a final answer.
package tools
