// Package queue provides the bounded priority event queue that decouples
// protocol event producers from the background consumer applying mutations
// to the cache entry table.
//
// Features and Guarantees:
//
//   - Bounded Size: the queue never holds more than MaxSize items
//   - FIFO Dispatch: items are dispatched in arrival order; priority never
//     reorders queued items
//   - Tiered Admission: when the queue is full, an arriving NOISE item is
//     dropped, while an arriving CORE or AUX item evicts the oldest queued
//     item regardless of that item's own tier. This favors recency and keeps
//     low-priority backlog from starving high-priority producers, at the
//     cost of occasionally discarding an older important event under
//     sustained overload. The asymmetry is deliberate: priority governs
//     admission, not position.
//   - Capped Fan-Out: the dispatch loop never runs more than MaxConcurrency
//     handlers at once; each handler failure (error or panic) is contained
//     and logged per item and never aborts the loop
//   - Countable Backpressure: every drop and eviction increments a counter
//     exposed via Stats and a process-wide metric; overflow is a designed
//     behavior, not an error
package queue
