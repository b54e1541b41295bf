package store

import (
	"sync"
)

// WriteBuffer is the in-memory staging structure of the durable store. It
// coalesces pending mutations by key: repeated writes to the same key before
// a flush collapse to the last value, and a write followed by a delete (or
// vice versa) keeps only the later operation.
//
// Invariant: a key never occupies the upsert and the delete side at the same
// time; staging on one side removes the key from the other.
//
// Thread-safety: all methods are safe for concurrent use.
type WriteBuffer struct {
	mu      sync.Mutex
	upserts map[string][]byte
	deletes map[string]struct{}
}

// NewWriteBuffer creates an empty write buffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{
		upserts: make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// StageUpsert stages a pending insert/update, displacing a staged delete.
func (b *WriteBuffer) StageUpsert(key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.deletes, key)
	b.upserts[key] = value
}

// StageDelete stages a pending deletion, displacing a staged upsert.
func (b *WriteBuffer) StageDelete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.upserts, key)
	b.deletes[key] = struct{}{}
}

// Snapshot atomically drains the buffer and returns the staged state. The
// caller owns the returned maps; a flush commits them and, on failure, hands
// them back via Restage.
func (b *WriteBuffer) Snapshot() (upserts map[string][]byte, deletes map[string]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	upserts = b.upserts
	deletes = b.deletes
	b.upserts = make(map[string][]byte)
	b.deletes = make(map[string]struct{})
	return upserts, deletes
}

// Restage re-inserts a failed flush snapshot. Keys that have been staged
// again since the snapshot was taken keep their newer state; the snapshot
// never overwrites them.
func (b *WriteBuffer) Restage(upserts map[string][]byte, deletes map[string]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, value := range upserts {
		if _, ok := b.upserts[key]; ok {
			continue
		}
		if _, ok := b.deletes[key]; ok {
			continue
		}
		b.upserts[key] = value
	}
	for key := range deletes {
		if _, ok := b.upserts[key]; ok {
			continue
		}
		if _, ok := b.deletes[key]; ok {
			continue
		}
		b.deletes[key] = struct{}{}
	}
}

// StagedDelete reports whether a deletion is currently staged for the key.
// The durable store uses this to hide rows that are already deleted in the
// logical state but still present on disk until the next flush.
func (b *WriteBuffer) StagedDelete(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.deletes[key]
	return ok
}

// StagedUpsert reports whether an upsert is currently staged for the key.
// Vacuum uses this to spare keys whose newest value has not been persisted
// yet: the on-disk last_access is stale for them.
func (b *WriteBuffer) StagedUpsert(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.upserts[key]
	return ok
}

// Len returns the total number of staged mutations.
func (b *WriteBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.upserts) + len(b.deletes)
}
