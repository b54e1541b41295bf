package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/engine"
	"github.com/ValentinKolb/sKV/lib/logging"
	"github.com/ValentinKolb/sKV/lib/queue"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/health"
)

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// expires_at is NULL for never-expiring rows; those are bounded by the
// frequency-based eviction instead of a TTL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY CHECK (length(key) BETWEEN 1 AND 511),
		value       TEXT NOT NULL,
		record_type TEXT NOT NULL,
		expires_at  INTEGER,
		access_freq INTEGER NOT NULL DEFAULT 0,
		last_access INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries (expires_at) WHERE expires_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_cache_lfu ON cache_entries (access_freq, last_access) WHERE expires_at IS NULL`,
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the cache table behavior during initialization
type Options struct {
	SweepInterval time.Duration // Interval of the expiry sweep / eviction pass
	MaxPersistent int           // Capacity for never-expiring rows before LFU eviction
	// QueueStats, if set, contributes queue pressure to Health snapshots.
	QueueStats func() queue.Stats
}

// DefaultOptions returns the default cache table options
func DefaultOptions() *Options {
	return &Options{
		SweepInterval: time.Minute,
		MaxPersistent: 10000,
	}
}

// --------------------------------------------------------------------------
// Cache Table Implementation
// --------------------------------------------------------------------------

// make sure tableImpl implements the ICacheTable interface
var _ store.ICacheTable = (*tableImpl)(nil)

type tableImpl struct {
	eng   *engine.Engine
	codec codec.IValueCodec
	opts  Options

	hist *health.SizeHistogram

	sweeping atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	closed atomic.Bool
	logger logging.Logger
}

// NewCacheTable creates a cache table over an exclusively owned,
// memory-resident engine and starts the background sweeper. A non-nil error
// is a fatal startup condition.
func NewCacheTable(eng *engine.Engine, valueCodec codec.IValueCodec, opts *Options) (store.ICacheTable, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	t := &tableImpl{
		eng:    eng,
		codec:  valueCodec,
		opts:   *opts,
		hist:   health.NewSizeHistogram(),
		done:   make(chan struct{}),
		logger: logging.New("store/cache"),
	}

	err := eng.RunInTransaction(func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.startSweeper()
	return t, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Writes (docu see store/interface.go)
// --------------------------------------------------------------------------

func (t *tableImpl) AtomicSet(key string, value []byte, recordType store.RecordType) bool {
	if t.closed.Load() || !store.ValidKey(key) || value == nil {
		return false
	}

	encoded, err := t.codec.Encode(value)
	if err != nil {
		t.logger.Errorf("encode %q: %v", key, err)
		return false
	}

	// overwrite keeps the accumulated access frequency
	_, err = t.eng.DB().Exec(
		`INSERT INTO cache_entries (key, value, record_type, expires_at, access_freq, last_access)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			record_type = excluded.record_type,
			expires_at = excluded.expires_at,
			last_access = excluded.last_access`,
		key, encoded, string(recordType), expiryArg(recordType, time.Now()), time.Now().UnixMilli())
	if err != nil {
		t.logger.Errorf("set %q: %v", key, err)
		return false
	}

	t.hist.AddSample(len(value))
	return true
}

func (t *tableImpl) SetMany(pairs map[string][]byte, recordType store.RecordType) error {
	if t.closed.Load() {
		return store.NewError(store.RetCStoreClosed, "cache table closed")
	}

	now := time.Now()
	expiry := expiryArg(recordType, now)

	err := t.eng.RunInTransaction(func(tx *sql.Tx) error {
		for key, value := range pairs {
			if !store.ValidKey(key) || value == nil {
				return fmt.Errorf("invalid pair %q", key)
			}
			encoded, err := t.codec.Encode(value)
			if err != nil {
				return fmt.Errorf("encode %q: %w", key, err)
			}
			_, err = tx.Exec(
				`INSERT INTO cache_entries (key, value, record_type, expires_at, access_freq, last_access)
				 VALUES (?, ?, ?, ?, 0, ?)
				 ON CONFLICT(key) DO UPDATE SET
					value = excluded.value,
					record_type = excluded.record_type,
					expires_at = excluded.expires_at,
					last_access = excluded.last_access`,
				key, encoded, string(recordType), expiry, now.UnixMilli())
			if err != nil {
				return fmt.Errorf("set %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return store.NewError(store.RetCInvalidOperation, fmt.Sprintf("set many: %v", err))
	}

	for _, value := range pairs {
		t.hist.AddSample(len(value))
	}
	return nil
}

func (t *tableImpl) Delete(key string) bool {
	if t.closed.Load() || !store.ValidKey(key) {
		return false
	}
	if _, err := t.eng.DB().Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		t.logger.Errorf("delete %q: %v", key, err)
		return false
	}
	return true
}

func (t *tableImpl) Increment(key string, amount int64, recordType store.RecordType) (int64, error) {
	if t.closed.Load() {
		return 0, store.NewError(store.RetCStoreClosed, "cache table closed")
	}
	if !store.ValidKey(key) {
		return 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("invalid key (%d bytes)", len(key)))
	}

	now := time.Now()
	var result int64

	err := t.eng.RunInTransaction(func(tx *sql.Tx) error {
		var encoded string
		var expiresAt sql.NullInt64
		err := tx.QueryRow(`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).
			Scan(&encoded, &expiresAt)

		result = amount
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// created below at amount
		case err != nil:
			return err
		case expired(expiresAt, now):
			// an expired counter restarts at amount
		default:
			raw, err := t.codec.Decode(encoded)
			if err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			parsed, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("value of %q is not a counter: %w", key, err)
			}
			result = parsed + amount
		}

		newEncoded, err := t.codec.Encode([]byte(strconv.FormatInt(result, 10)))
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO cache_entries (key, value, record_type, expires_at, access_freq, last_access)
			 VALUES (?, ?, ?, ?, 0, ?)
			 ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				record_type = excluded.record_type,
				expires_at = excluded.expires_at,
				last_access = excluded.last_access`,
			key, newEncoded, string(recordType), expiryArg(recordType, now), now.UnixMilli())
		return err
	})
	if err != nil {
		return 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("increment: %v", err))
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Reads (docu see store/interface.go)
// --------------------------------------------------------------------------

func (t *tableImpl) Get(key string) ([]byte, bool) {
	if t.closed.Load() || !store.ValidKey(key) {
		return nil, false
	}

	var encoded string
	var expiresAt sql.NullInt64
	err := t.eng.DB().QueryRow(`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&encoded, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		t.logger.Errorf("read %q: %v", key, err)
		return nil, false
	}
	if expired(expiresAt, time.Now()) {
		return nil, false
	}

	value, err := t.codec.Decode(encoded)
	if err != nil {
		t.logger.Warnf("dropping corrupt cache entry %q: %v", key, err)
		t.Delete(key)
		return nil, false
	}

	go t.bumpFrequency(key)
	return value, true
}

func (t *tableImpl) Has(key string) bool {
	if t.closed.Load() || !store.ValidKey(key) {
		return false
	}

	var one int
	err := t.eng.DB().QueryRow(
		`SELECT 1 FROM cache_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UnixMilli()).Scan(&one)
	return err == nil
}

func (t *tableImpl) Keys(pattern string) ([]string, error) {
	if t.closed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "cache table closed")
	}

	rows, err := t.eng.DB().Query(
		`SELECT key FROM cache_entries
		 WHERE key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key`,
		store.PatternToLIKE(pattern), time.Now().UnixMilli())
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}
	return keys, nil
}

func (t *tableImpl) Scan(pattern string, limit int) ([]store.Entry, error) {
	if t.closed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "cache table closed")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := t.eng.DB().Query(
		`SELECT key, value FROM cache_entries
		 WHERE key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key LIMIT ?`,
		store.PatternToLIKE(pattern), time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var key, encoded string
		if err := rows.Scan(&key, &encoded); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
		}
		value, err := t.codec.Decode(encoded)
		if err != nil {
			t.logger.Warnf("skipping corrupt cache entry %q: %v", key, err)
			continue
		}
		entries = append(entries, store.Entry{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
	}
	return entries, nil
}

func (t *tableImpl) MGet(keys []string) ([][]byte, error) {
	if t.closed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "cache table closed")
	}

	values := make([][]byte, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	indexes := make(map[string][]int, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for i, key := range keys {
		if !store.ValidKey(key) {
			continue
		}
		if _, ok := indexes[key]; !ok {
			args = append(args, key)
		}
		indexes[key] = append(indexes[key], i)
	}
	if len(args) == 0 {
		return values, nil
	}

	query := fmt.Sprintf(
		`SELECT key, value FROM cache_entries
		 WHERE key IN (%s) AND (expires_at IS NULL OR expires_at > ?)`,
		strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
	args = append(args, time.Now().UnixMilli())

	rows, err := t.eng.DB().Query(query, args...)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
	}
	defer rows.Close()

	for rows.Next() {
		var key, encoded string
		if err := rows.Scan(&key, &encoded); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
		}
		value, err := t.codec.Decode(encoded)
		if err != nil {
			t.logger.Warnf("skipping corrupt cache entry %q: %v", key, err)
			continue
		}
		for _, i := range indexes[key] {
			values[i] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
	}
	return values, nil
}

func (t *tableImpl) BulkGet(keys []string) (map[string][]byte, error) {
	values, err := t.MGet(keys)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]byte)
	for i, value := range values {
		if value != nil {
			result[keys[i]] = value
		}
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Health
// --------------------------------------------------------------------------

func (t *tableImpl) Health() health.Snapshot {
	snapshot := health.Snapshot{
		EntriesByType: make(map[string]int64),
	}
	if t.closed.Load() {
		return snapshot
	}

	now := time.Now().UnixMilli()
	rows, err := t.eng.DB().Query(
		`SELECT record_type, COUNT(*) FROM cache_entries
		 WHERE expires_at IS NULL OR expires_at > ?
		 GROUP BY record_type`, now)
	if err != nil {
		t.logger.Errorf("health snapshot: %v", err)
		return snapshot
	}
	defer rows.Close()

	for rows.Next() {
		var recordType string
		var count int64
		if err := rows.Scan(&recordType, &count); err != nil {
			t.logger.Errorf("health snapshot: %v", err)
			return snapshot
		}
		snapshot.EntriesByType[recordType] = count
		snapshot.TotalEntries += count
	}
	if err := rows.Err(); err != nil {
		t.logger.Errorf("health snapshot: %v", err)
	}

	snapshot.ApproxValueBytes = health.EstimateTotalBytes(t.hist, snapshot.TotalEntries)

	if t.opts.QueueStats != nil {
		stats := t.opts.QueueStats()
		snapshot.QueueDepth = stats.Depth
		snapshot.InFlight = stats.InFlight
		snapshot.DroppedEvents = stats.Dropped
	}
	return snapshot
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (t *tableImpl) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.stopSweeper()
	return t.eng.Close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// bumpFrequency increments the access counter in the background; failures
// only affect eviction ordering and are logged
func (t *tableImpl) bumpFrequency(key string) {
	if t.closed.Load() {
		return
	}
	_, err := t.eng.DB().Exec(
		`UPDATE cache_entries SET access_freq = access_freq + 1, last_access = ? WHERE key = ?`,
		time.Now().UnixMilli(), key)
	if err != nil {
		t.logger.Debugf("bump access frequency %q: %v", key, err)
	}
}

// expiryArg returns the expires_at column value for a record type: a unix
// millisecond deadline, or nil for never-expiring types.
func expiryArg(recordType store.RecordType, now time.Time) interface{} {
	ttl := recordType.TTL()
	if ttl == 0 {
		return nil
	}
	return now.Add(ttl).UnixMilli()
}

func expired(expiresAt sql.NullInt64, now time.Time) bool {
	return expiresAt.Valid && expiresAt.Int64 <= now.UnixMilli()
}
