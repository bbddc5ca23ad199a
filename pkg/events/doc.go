// Package events carries run lifecycle notifications to optional consumers.
// Delivery is fire and forget: a missing or slow consumer never blocks a run.
package events
