package store

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store/health"
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// Entry is a key-value pair returned by scan operations.
type Entry struct {
	Key   string
	Value []byte
}

// IDurableStore is the interface for the durable, write-buffered state store.
//
// All keyed operations validate their key (1-511 bytes) and report failure as
// a boolean result rather than an error; only Flush and Vacuum surface
// *Error values, and only construction failures abort startup. A disposed
// store rejects every operation.
type IDurableStore interface {
	// Get returns the value for a key. Reads are cache-first; a corrupt
	// persisted payload is deleted and reported as a miss, never as an error.
	Get(key string) (value []byte, loaded bool)
	// Set inserts or updates a key-value pair. The in-process cache is
	// updated synchronously, persistence is buffered and flushed later.
	// A nil value is the missing marker and is rejected; an empty slice is
	// an explicit null and accepted.
	Set(key string, value []byte) (ok bool)
	// Delete removes a key-value pair from the cache immediately and stages
	// the persisted deletion.
	Delete(key string) (ok bool)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool)
	// Keys returns all keys matching a pattern with a single '*' wildcard.
	Keys(pattern string) ([]string, error)
	// Scan returns up to limit entries matching the pattern, merging
	// buffered writes with persisted rows the same way Keys does.
	Scan(pattern string, limit int) ([]Entry, error)
	// MGet returns the values for the given keys in order; missing keys are
	// returned as nil entries, not errors.
	MGet(keys []string) ([][]byte, error)
	// BulkGet returns the existing subset of the given keys as a map.
	BulkGet(keys []string) (map[string][]byte, error)
	// SetMany stages all pairs for persistence; validation failures of
	// individual pairs are skipped and logged.
	SetMany(pairs map[string][]byte) (ok bool)
	// Increment applies a read-modify-write to a numeric counter, creating
	// the key at amount if absent.
	//
	// Thread-safety: the read-modify-write is not atomic across goroutines;
	// it relies on the single-threaded cooperative caller model. Concurrent
	// increments of the same key may lose updates.
	Increment(key string, amount int64) (int64, error)
	// Flush persists all buffered mutations inside one transaction. On
	// failure the staged data is re-inserted into the buffer and the error
	// is returned.
	Flush() error
	// Vacuum removes aged session-auxiliary records and reclaims space.
	// Calls inside the configured rate-limit window are no-ops.
	Vacuum() error
	// Dispose flushes remaining writes (best-effort, bounded by a timeout),
	// reclaims space, releases the engine and marks the instance permanently
	// unusable. Dispose is idempotent.
	Dispose()
	// Disposed reports whether the store has been disposed.
	Disposed() bool
}

// ICacheTable is the interface for the volatile, TTL- and frequency-aware
// cache entry table. All operations are synchronous against the
// memory-resident engine; only access-frequency bookkeeping runs in the
// background.
type ICacheTable interface {
	// AtomicSet writes a value with the TTL derived from its record type.
	AtomicSet(key string, value []byte, recordType RecordType) (ok bool)
	// Get returns the value for a key, treating expired rows as absent.
	// A hit bumps the access frequency in the background.
	Get(key string) (value []byte, loaded bool)
	// Delete removes a key.
	Delete(key string) (ok bool)
	// Has returns whether a non-expired row exists for the key.
	Has(key string) (loaded bool)
	// Keys returns all non-expired keys matching a pattern with a single
	// '*' wildcard.
	Keys(pattern string) ([]string, error)
	// Scan returns up to limit non-expired entries matching the pattern.
	Scan(pattern string, limit int) ([]Entry, error)
	// MGet returns the values for the given keys in order; missing or
	// expired keys are returned as nil entries, not errors.
	MGet(keys []string) ([][]byte, error)
	// BulkGet returns the existing, non-expired subset of the given keys.
	BulkGet(keys []string) (map[string][]byte, error)
	// SetMany writes all pairs with one uniform TTL inside one transaction.
	SetMany(pairs map[string][]byte, recordType RecordType) error
	// Increment applies a read-modify-write to a numeric counter inside one
	// transaction, creating the key at amount if absent.
	Increment(key string, amount int64, recordType RecordType) (int64, error)
	// Health returns a read-only, side-effect free snapshot of entry counts,
	// approximate sizes and queue pressure.
	Health() health.Snapshot
	// Close stops the background sweeper and releases the engine.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	case RetCUnsupportedOperation:
		errorCode = "UnsupportedOperation"
	case RetCStoreClosed:
		errorCode = "StoreClosed"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the underlying engine.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCStoreClosed                         // 4: The store instance has been disposed.
)
