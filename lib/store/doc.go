// Package store defines the shared contracts of the sKV persistence core:
// the durable state store and the volatile cache entry table, the record
// model with its type-derived TTL policy, the coalescing write buffer and
// the common error taxonomy.
//
// The two store implementations live in the subpackages store/durable and
// store/cache; both are created through factory functions that receive an
// exclusively owned engine handle.
//
// Error handling follows a containment-first policy: validation failures are
// boolean results plus a logged warning, corrupt persisted payloads are
// treated as misses, and only construction-time failures propagate to the
// caller as errors.
package store
