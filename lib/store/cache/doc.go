// Package cache implements the volatile cache entry table: a TTL- and
// frequency-aware keyed store over a memory-resident embedded engine.
//
// Every entry carries a record type that selects its time-to-live from a
// static policy table; a zero TTL marks the entry as never expiring. Expired
// rows are treated as absent by every read and removed by a periodic sweep.
// Never-expiring rows are bounded by a capacity instead: when the population
// exceeds it, the sweep evicts the least frequently used rows first, oldest
// access first among ties.
//
// Reads bump the row's access frequency in the background so the hot path
// never waits for bookkeeping writes.
package cache
