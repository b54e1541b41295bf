// Package engine wraps the embedded transactional storage engine (SQLite via
// the pure-Go modernc.org/sqlite driver) used by both sKV stores.
//
// The package focuses on:
//   - A single-writer connection discipline so the embedded engine is only
//     ever mutated from one transaction at a time
//   - Pragma/configuration hooks for write-ahead durability mode, cache
//     sizing and incremental space reclamation
//   - A RunInTransaction primitive that commits on success and rolls back
//     on error
//
// Key Components:
//
//   - Config: engine configuration with factories for the two deployment
//     shapes used by sKV: DefaultConfig (durable, file-backed, WAL) and
//     MemoryConfig (volatile, memory-resident).
//
//   - Engine: the opened engine handle. Each store instance exclusively owns
//     one Engine; the handle is never shared between stores.
//
// Construction failures (cannot open or configure the database) are the only
// fatal errors this package produces and are expected to abort startup.
package engine
