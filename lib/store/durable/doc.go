// Package durable implements the durable state store: a keyed byte store
// backed by a file-based embedded engine, used to survive process restarts
// without re-authenticating a long-lived connection.
//
// Write path: Set/Delete update the in-process cache synchronously and stage
// the mutation in a coalescing write buffer; a debounced timer commits the
// buffer in a single batched transaction. A failed flush re-stages its
// snapshot, so no staged write is lost short of process death.
//
// Read path: Get is cache-first. A disk hit populates the cache and bumps
// the record's last-access timestamp in the background; a corrupt persisted
// payload is deleted and reported as a miss, never as an error.
//
// Maintenance: Vacuum removes session-auxiliary records (composite
// "category-id" keys) whose last access is older than the configured
// maximum age, in bounded batches, and reclaims file space afterwards.
// Flush and vacuum are mutually exclusive: both mutate the records table,
// and flush failure recovery would be corrupted by concurrent vacuum
// deletions racing the same keys.
//
// Disposal: Dispose is idempotent, stops all timers, flushes remaining
// writes bounded by a best-effort timeout, reclaims space and marks the
// instance permanently unusable. Creating a fresh instance against the same
// file afterwards is valid.
package durable
