package durable

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/engine"
	"github.com/ValentinKolb/sKV/lib/logging"
	"github.com/ValentinKolb/sKV/lib/store"
)

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// schema is the persisted layout: one records table, an index over
// last_access for vacuum scans and a partial index over the composite
// session-auxiliary keys.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		key         TEXT PRIMARY KEY CHECK (length(key) BETWEEN 1 AND 511),
		value       TEXT NOT NULL,
		last_access INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_last_access ON records (last_access)`,
	`CREATE INDEX IF NOT EXISTS idx_records_session_aux ON records (key) WHERE key LIKE '_%-%_'`,
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the durable store behavior during initialization
type Options struct {
	FlushDebounce  time.Duration // Delay between the first staged write and the flush
	MaxFlushBatch  int           // Maximum rows per statement inside a flush transaction
	VacuumInterval time.Duration // Minimum time between two vacuum passes
	VacuumMaxAge   time.Duration // Last-access age after which session records are removed
	VacuumBatch    int           // Maximum rows deleted per vacuum transaction
	DisposeTimeout time.Duration // Best-effort bound on the final flush during disposal
}

// DefaultOptions returns the default durable store options
func DefaultOptions() *Options {
	return &Options{
		FlushDebounce:  500 * time.Millisecond,
		MaxFlushBatch:  200,
		VacuumInterval: 6 * time.Hour,
		VacuumMaxAge:   14 * 24 * time.Hour,
		VacuumBatch:    500,
		DisposeTimeout: 5 * time.Second,
	}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	flushTotal     = metrics.NewCounter("skv_durable_flush_total")
	flushFailed    = metrics.NewCounter("skv_durable_flush_failed_total")
	vacuumTotal    = metrics.NewCounter("skv_durable_vacuum_total")
	vacuumRemoved  = metrics.NewCounter("skv_durable_vacuum_removed_total")
	corruptDropped = metrics.NewCounter("skv_durable_corrupt_dropped_total")
)

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

// make sure storeImpl implements the IDurableStore interface
var _ store.IDurableStore = (*storeImpl)(nil)

type storeImpl struct {
	eng   *engine.Engine
	codec codec.IValueCodec
	opts  Options

	cache  *xsync.MapOf[string, []byte]
	buffer *store.WriteBuffer

	// maintMu serializes flush and vacuum: both mutate the records table,
	// and restage-on-failure must not race vacuum deletions.
	maintMu sync.Mutex

	timerMu    sync.Mutex
	flushTimer *time.Timer
	flushArmed bool

	lastVacuum  atomic.Int64 // unix nanos of the last vacuum pass
	vacuumDone  chan struct{}
	vacuumLoop  sync.WaitGroup
	disposed    atomic.Bool
	disposeOnce sync.Once

	logger logging.Logger
}

// NewDurableStore creates a durable store over an exclusively owned engine.
// A non-nil error is a fatal startup condition.
func NewDurableStore(eng *engine.Engine, valueCodec codec.IValueCodec, opts *Options) (store.IDurableStore, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	s := &storeImpl{
		eng:    eng,
		codec:  valueCodec,
		opts:   *opts,
		cache:  xsync.NewMapOf[string, []byte](),
		buffer: store.NewWriteBuffer(),
		logger: logging.New("store/durable"),
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

	s.startVacuumTicker()
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods - Reads (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) ([]byte, bool) {
	if s.disposed.Load() || !store.ValidKey(key) {
		return nil, false
	}

	if value, ok := s.cache.Load(key); ok {
		return cloneBytes(value), true
	}

	// a staged delete hides the row still present on disk
	if s.buffer.StagedDelete(key) {
		return nil, false
	}

	value, ok := s.loadFromDisk(key)
	if !ok {
		return nil, false
	}

	s.cache.Store(key, value)
	go s.touchLastAccess(key)

	return cloneBytes(value), true
}

// loadFromDisk reads and decodes one row. Corrupt payloads are deleted and
// reported as a miss.
func (s *storeImpl) loadFromDisk(key string) ([]byte, bool) {
	var encoded string
	err := s.eng.DB().QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Errorf("read %q: %v", key, err)
		return nil, false
	}

	value, err := s.codec.Decode(encoded)
	if err != nil {
		corruptDropped.Inc()
		s.logger.Warnf("dropping corrupt record %q: %v", key, err)
		if _, err := s.eng.DB().Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
			s.logger.Errorf("drop corrupt record %q: %v", key, err)
		}
		return nil, false
	}
	return value, true
}

func (s *storeImpl) Has(key string) bool {
	if s.disposed.Load() || !store.ValidKey(key) {
		return false
	}
	if _, ok := s.cache.Load(key); ok {
		return true
	}
	if s.buffer.StagedDelete(key) {
		return false
	}

	var one int
	err := s.eng.DB().QueryRow(`SELECT 1 FROM records WHERE key = ?`, key).Scan(&one)
	return err == nil
}

func (s *storeImpl) Keys(pattern string) ([]string, error) {
	if s.disposed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "store disposed")
	}

	seen := make(map[string]struct{})

	// unflushed writes live only in the in-process cache
	s.cache.Range(func(key string, _ []byte) bool {
		if store.MatchPattern(pattern, key) {
			seen[key] = struct{}{}
		}
		return true
	})

	rows, err := s.eng.DB().Query(`SELECT key FROM records WHERE key LIKE ? ESCAPE '\'`, store.PatternToLIKE(pattern))
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
		}
		if !s.buffer.StagedDelete(key) {
			seen[key] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *storeImpl) Scan(pattern string, limit int) ([]store.Entry, error) {
	if s.disposed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "store disposed")
	}
	if limit <= 0 {
		return nil, nil
	}

	merged := make(map[string][]byte)

	// buffered writes take precedence over their stale persisted rows
	s.cache.Range(func(key string, value []byte) bool {
		if store.MatchPattern(pattern, key) {
			merged[key] = value
		}
		return true
	})

	rows, err := s.eng.DB().Query(
		`SELECT key, value FROM records WHERE key LIKE ? ESCAPE '\'`, store.PatternToLIKE(pattern))
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
	}
	defer rows.Close()

	var corrupt []string
	for rows.Next() {
		var key, encoded string
		if err := rows.Scan(&key, &encoded); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
		}
		if s.buffer.StagedDelete(key) {
			continue
		}
		if _, ok := merged[key]; ok {
			continue
		}
		value, err := s.codec.Decode(encoded)
		if err != nil {
			corrupt = append(corrupt, key)
			continue
		}
		merged[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scan: %v", err))
	}
	// release the single connection before issuing cleanup deletes
	_ = rows.Close()
	s.dropCorrupt(corrupt)

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]store.Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, store.Entry{Key: key, Value: cloneBytes(merged[key])})
	}
	return entries, nil
}

func (s *storeImpl) MGet(keys []string) ([][]byte, error) {
	if s.disposed.Load() {
		return nil, store.NewError(store.RetCStoreClosed, "store disposed")
	}

	values := make([][]byte, len(keys))

	// resolve cache hits first, collect the disk lookups
	missing := make([]string, 0, len(keys))
	missingIdx := make(map[string][]int, len(keys))
	for i, key := range keys {
		if !store.ValidKey(key) || s.buffer.StagedDelete(key) {
			continue
		}
		if value, ok := s.cache.Load(key); ok {
			values[i] = cloneBytes(value)
			continue
		}
		if _, ok := missingIdx[key]; !ok {
			missing = append(missing, key)
		}
		missingIdx[key] = append(missingIdx[key], i)
	}

	if len(missing) == 0 {
		return values, nil
	}

	// one batch query for all remaining keys
	query := fmt.Sprintf(`SELECT key, value FROM records WHERE key IN (%s)`, placeholders(len(missing)))
	rows, err := s.eng.DB().Query(query, stringArgs(missing)...)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
	}
	defer rows.Close()

	var corrupt []string
	for rows.Next() {
		var key, encoded string
		if err := rows.Scan(&key, &encoded); err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
		}
		value, err := s.codec.Decode(encoded)
		if err != nil {
			corrupt = append(corrupt, key)
			continue
		}
		s.cache.Store(key, value)
		for _, i := range missingIdx[key] {
			values[i] = cloneBytes(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("mget: %v", err))
	}
	// release the single connection before issuing cleanup deletes
	_ = rows.Close()
	s.dropCorrupt(corrupt)

	return values, nil
}

// dropCorrupt deletes rows whose payload failed to decode. Must only be
// called with no result set open on the engine's single connection.
func (s *storeImpl) dropCorrupt(keys []string) {
	for _, key := range keys {
		corruptDropped.Inc()
		s.logger.Warnf("dropping corrupt record %q", key)
		if _, err := s.eng.DB().Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
			s.logger.Errorf("drop corrupt record %q: %v", key, err)
		}
	}
}

func (s *storeImpl) BulkGet(keys []string) (map[string][]byte, error) {
	values, err := s.MGet(keys)
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
// Interface Methods - Writes (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) bool {
	if s.disposed.Load() {
		s.logger.Warnf("rejected set %q: store disposed", key)
		return false
	}
	if !store.ValidKey(key) {
		s.logger.Warnf("rejected set: invalid key (%d bytes)", len(key))
		return false
	}
	if value == nil {
		// nil is the missing marker; an explicit null is an empty slice
		s.logger.Warnf("rejected set %q: nil value", key)
		return false
	}

	v := cloneBytes(value)
	s.cache.Store(key, v)
	s.buffer.StageUpsert(key, v)
	s.armFlush()
	return true
}

func (s *storeImpl) Delete(key string) bool {
	if s.disposed.Load() {
		s.logger.Warnf("rejected delete %q: store disposed", key)
		return false
	}
	if !store.ValidKey(key) {
		s.logger.Warnf("rejected delete: invalid key (%d bytes)", len(key))
		return false
	}

	s.cache.Delete(key)
	s.buffer.StageDelete(key)
	s.armFlush()
	return true
}

func (s *storeImpl) SetMany(pairs map[string][]byte) bool {
	ok := true
	for key, value := range pairs {
		if !s.Set(key, value) {
			ok = false
		}
	}
	return ok
}

func (s *storeImpl) Increment(key string, amount int64) (int64, error) {
	if s.disposed.Load() {
		return 0, store.NewError(store.RetCStoreClosed, "store disposed")
	}
	if !store.ValidKey(key) {
		return 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("invalid key (%d bytes)", len(key)))
	}

	current := amount
	if raw, ok := s.Get(key); ok {
		parsed, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("value of %q is not a counter: %v", key, err))
		}
		current = parsed + amount
	}

	s.Set(key, []byte(strconv.FormatInt(current, 10)))
	return current, nil
}

// --------------------------------------------------------------------------
// Flush
// --------------------------------------------------------------------------

// armFlush arms the debounced flush timer if none is pending
func (s *storeImpl) armFlush() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.flushArmed || s.disposed.Load() {
		return
	}
	s.flushArmed = true
	s.flushTimer = time.AfterFunc(s.opts.FlushDebounce, func() {
		s.timerMu.Lock()
		s.flushArmed = false
		s.timerMu.Unlock()

		if s.disposed.Load() {
			return
		}
		// errors are logged and the snapshot is re-staged inside flush
		_ = s.flush()
	})
}

func (s *storeImpl) Flush() error {
	if s.disposed.Load() {
		return store.NewError(store.RetCStoreClosed, "store disposed")
	}
	return s.flush()
}

// flush commits the buffered mutations in one batched transaction. It is the
// only write path to the records table besides vacuum; both serialize on
// maintMu.
func (s *storeImpl) flush() error {
	s.maintMu.Lock()
	defer s.maintMu.Unlock()

	upserts, deletes := s.buffer.Snapshot()
	if len(upserts)+len(deletes) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()

	err := s.eng.RunInTransaction(func(tx *sql.Tx) error {
		// upserts, batched to bound statement size
		pending := make([]string, 0, len(upserts))
		for key := range upserts {
			pending = append(pending, key)
		}
		for start := 0; start < len(pending); start += s.opts.MaxFlushBatch {
			end := min(start+s.opts.MaxFlushBatch, len(pending))
			batch := pending[start:end]

			args := make([]interface{}, 0, len(batch)*3)
			for _, key := range batch {
				encoded, err := s.codec.Encode(upserts[key])
				if err != nil {
					return fmt.Errorf("encode %q: %w", key, err)
				}
				args = append(args, key, encoded, now)
			}

			stmt := fmt.Sprintf(
				`INSERT INTO records (key, value, last_access) VALUES %s
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, last_access = excluded.last_access`,
				valueTuples(len(batch)))
			if _, err := tx.Exec(stmt, args...); err != nil {
				return fmt.Errorf("upsert batch: %w", err)
			}
		}

		// deletes, batched the same way
		pendingDel := make([]string, 0, len(deletes))
		for key := range deletes {
			pendingDel = append(pendingDel, key)
		}
		for start := 0; start < len(pendingDel); start += s.opts.MaxFlushBatch {
			end := min(start+s.opts.MaxFlushBatch, len(pendingDel))
			batch := pendingDel[start:end]

			stmt := fmt.Sprintf(`DELETE FROM records WHERE key IN (%s)`, placeholders(len(batch)))
			if _, err := tx.Exec(stmt, stringArgs(batch)...); err != nil {
				return fmt.Errorf("delete batch: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		s.buffer.Restage(upserts, deletes)
		flushFailed.Inc()
		s.logger.Errorf("flush failed, %d mutations re-staged: %v", len(upserts)+len(deletes), err)
		return store.NewError(store.RetCInternalError, fmt.Sprintf("flush: %v", err))
	}

	flushTotal.Inc()
	s.logger.Debugf("flushed %d upserts, %d deletes", len(upserts), len(deletes))
	return nil
}

// --------------------------------------------------------------------------
// Disposal
// --------------------------------------------------------------------------

func (s *storeImpl) Dispose() {
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		s.stopVacuumTicker()

		s.timerMu.Lock()
		if s.flushTimer != nil {
			s.flushTimer.Stop()
		}
		s.flushArmed = false
		s.timerMu.Unlock()

		// final flush, bounded: if the engine does not respond in time,
		// disposal proceeds and accepts the data loss in that window
		done := make(chan error, 1)
		go func() { done <- s.flush() }()
		select {
		case err := <-done:
			if err != nil {
				s.logger.Errorf("final flush failed: %v", err)
			}
		case <-time.After(s.opts.DisposeTimeout):
			s.logger.Warnf("final flush did not finish within %s, disposing anyway", s.opts.DisposeTimeout)
		}

		if err := s.eng.IncrementalVacuum(0); err != nil {
			s.logger.Warnf("space reclamation on dispose: %v", err)
		}
		if err := s.eng.Close(); err != nil {
			s.logger.Warnf("engine close: %v", err)
		}

		s.logger.Infof("durable store disposed")
	})
}

func (s *storeImpl) Disposed() bool {
	return s.disposed.Load()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// touchLastAccess bumps the persisted last-access timestamp in the
// background; failures only matter for vacuum accuracy and are logged
func (s *storeImpl) touchLastAccess(key string) {
	if s.disposed.Load() {
		return
	}
	if _, err := s.eng.DB().Exec(`UPDATE records SET last_access = ? WHERE key = ?`, time.Now().UnixMilli(), key); err != nil {
		s.logger.Debugf("touch last_access %q: %v", key, err)
	}
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// placeholders returns "?, ?, ..." for n parameters
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// valueTuples returns "(?, ?, ?), (?, ?, ?), ..." for n three-column rows
func valueTuples(n int) string {
	return strings.TrimSuffix(strings.Repeat("(?, ?, ?), ", n), ", ")
}

func stringArgs(keys []string) []interface{} {
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	return args
}
