package store

import (
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Key Validation
// --------------------------------------------------------------------------

// MaxKeyLength is the maximum accepted key length in bytes.
const MaxKeyLength = 511

// ValidKey reports whether a key is storable: non-empty and at most
// MaxKeyLength bytes.
func ValidKey(key string) bool {
	return len(key) >= 1 && len(key) <= MaxKeyLength
}

// CompositeKey reports whether a key has the composite "category-id" form
// that identifies session and session-auxiliary records (e.g. "session-4711",
// "pre-key-17"). Plain keys such as "creds" are durable configuration and
// must never be vacuumed.
func CompositeKey(key string) bool {
	i := strings.IndexByte(key, '-')
	return i > 0 && i < len(key)-1
}

// --------------------------------------------------------------------------
// Record Model
// --------------------------------------------------------------------------

// RecordType classifies a cache entry and selects its TTL.
type RecordType string

const (
	RecordTypePresence  RecordType = "presence"
	RecordTypeTyping    RecordType = "typing"
	RecordTypeMessage   RecordType = "message"
	RecordTypeChat      RecordType = "chat"
	RecordTypeCall      RecordType = "call"
	RecordTypeContact   RecordType = "contact"
	RecordTypeBlocklist RecordType = "blocklist"
	RecordTypeConfig    RecordType = "config"
)

// ttlPolicy is the static record-type to TTL table. A zero duration means the
// record never expires and is instead subject to frequency-based eviction.
var ttlPolicy = map[RecordType]time.Duration{
	RecordTypePresence:  2 * time.Minute,
	RecordTypeTyping:    30 * time.Second,
	RecordTypeMessage:   30 * time.Minute,
	RecordTypeChat:      30 * time.Minute,
	RecordTypeCall:      15 * time.Minute,
	RecordTypeContact:   12 * time.Hour,
	RecordTypeBlocklist: 12 * time.Hour,
	RecordTypeConfig:    0,
}

// defaultTTL applies to record types missing from the policy table
const defaultTTL = 30 * time.Minute

// TTL returns the time-to-live for the record type. Zero means never expire.
func (t RecordType) TTL() time.Duration {
	ttl, ok := ttlPolicy[t]
	if !ok {
		return defaultTTL
	}
	return ttl
}

// StorageRecord is the logical record shared by both stores.
type StorageRecord struct {
	Key             string
	Value           []byte
	Type            RecordType
	LastAccess      time.Time
	AccessFrequency int64
	ExpiresAt       time.Time // zero value means never expires
}

// Expired reports whether the record's TTL has passed at the given instant.
func (r *StorageRecord) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}
