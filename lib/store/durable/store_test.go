package durable

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/engine"
	"github.com/ValentinKolb/sKV/lib/store"
	storetesting "github.com/ValentinKolb/sKV/lib/store/testing"
)

func TestDurableStoreContract(t *testing.T) {
	storetesting.RunKeyedStoreTests(t, "DurableStore", func() storetesting.KeyedStore {
		s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
		t.Cleanup(s.Dispose)
		return s
	})
}

// testOptions disables the debounce timer (flushes are explicit in tests) and
// the vacuum rate limit.
func testOptions() *Options {
	opts := DefaultOptions()
	opts.FlushDebounce = time.Hour
	opts.VacuumInterval = 0
	opts.VacuumMaxAge = time.Hour
	opts.VacuumBatch = 10
	return opts
}

func newTestStore(t *testing.T, path string) (store.IDurableStore, *engine.Engine) {
	t.Helper()

	eng, err := engine.Open(engine.DefaultConfig(path))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	s, err := NewDurableStore(eng, codec.NewJSONCodec(), testOptions())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s, eng
}

func TestRoundTripBeforeFlush(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	if !s.Set("creds", []byte("secret")) {
		t.Fatal("set failed")
	}

	// the write must be readable before any flush happened
	got, ok := s.Get("creds")
	if !ok || !bytes.Equal(got, []byte("secret")) {
		t.Fatalf("got (%q, %v), want (secret, true)", got, ok)
	}
	if !s.Has("creds") {
		t.Fatal("Has = false after set")
	}
}

func TestWriteCoalescing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, eng := newTestStore(t, path)

	s.Set("session-1", []byte("a"))
	s.Set("session-1", []byte("b"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var count int
	if err := eng.DB().QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows after coalesced writes, want 1", count)
	}
	s.Dispose()

	// only the last value survives on disk
	s2, _ := newTestStore(t, path)
	defer s2.Dispose()
	got, ok := s2.Get("session-1")
	if !ok || !bytes.Equal(got, []byte("b")) {
		t.Fatalf("got (%q, %v), want (b, true)", got, ok)
	}
}

func TestUnflushedWriteLostOnCrash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, eng := newTestStore(t, path)

	s.Set("creds", []byte("flushed"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	s.Set("session-1", []byte("unflushed"))

	// simulate a crash: the engine dies without a final flush
	if err := eng.Close(); err != nil {
		t.Fatalf("close engine: %v", err)
	}

	s2, _ := newTestStore(t, path)
	defer s2.Dispose()

	if _, ok := s2.Get("session-1"); ok {
		t.Fatal("unflushed write survived the crash")
	}
	got, ok := s2.Get("creds")
	if !ok || !bytes.Equal(got, []byte("flushed")) {
		t.Fatalf("flushed write lost: got (%q, %v)", got, ok)
	}
}

func TestValidationRejectsInvalidWrites(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	if s.Set("", []byte("v")) {
		t.Error("empty key accepted")
	}
	if s.Set(strings.Repeat("k", 512), []byte("v")) {
		t.Error("512-byte key accepted")
	}
	if s.Set("k", nil) {
		t.Error("nil value accepted")
	}
	// an empty slice is an explicit null, not the missing marker
	if !s.Set("k", []byte{}) {
		t.Error("empty value rejected")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var count int
	if err := eng.DB().QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want only the valid write", count)
	}
}

func TestStagedDeleteHidesPersistedRow(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("session-1", []byte("v"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// delete is staged but not yet flushed; the disk row must be invisible
	s.Delete("session-1")

	if _, ok := s.Get("session-1"); ok {
		t.Error("Get served a logically deleted key")
	}
	if s.Has("session-1") {
		t.Error("Has reported a logically deleted key")
	}
	keys, err := s.Keys("session-*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys returned %v for a logically deleted key", keys)
	}
}

func TestKeysMergesCacheAndDisk(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("session-1", []byte("flushed"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	s.Set("session-2", []byte("buffered"))
	s.Set("creds", []byte("other"))

	keys, err := s.Keys("session-*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"session-1", "session-2"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("got %v, want %v", keys, want)
	}
}

func TestMGetPreservesOrderWithMisses(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("a", []byte("1"))
	s.Set("c", []byte("3"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	values, err := s.MGet([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	if !bytes.Equal(values[0], []byte("1")) || values[1] != nil || !bytes.Equal(values[2], []byte("3")) {
		t.Fatalf("got %q, want [1 <nil> 3]", values)
	}

	result, err := s.BulkGet([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("bulkget: %v", err)
	}
	if len(result) != 2 || !bytes.Equal(result["a"], []byte("1")) || !bytes.Equal(result["c"], []byte("3")) {
		t.Fatalf("got %q, want only a and c", result)
	}
}

func TestIncrement(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	n, err := s.Increment("counter", 5)
	if err != nil || n != 5 {
		t.Fatalf("got (%d, %v), want (5, nil)", n, err)
	}
	n, err = s.Increment("counter", -2)
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want (3, nil)", n, err)
	}

	s.Set("creds", []byte("not a number"))
	if _, err := s.Increment("creds", 1); err == nil {
		t.Fatal("increment of non-numeric value succeeded")
	} else {
		var storeErr *store.Error
		if !errors.As(err, &storeErr) || storeErr.Code != store.RetCInvalidOperation {
			t.Fatalf("got %v, want InvalidOperation", err)
		}
	}
}

func TestVacuumRemovesAgedCompositeKeys(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("session-old", []byte("aged"))
	s.Set("session-new", []byte("fresh"))
	s.Set("creds", []byte("aged but protected"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// age two records past the vacuum cutoff
	ancient := time.Now().Add(-2 * time.Hour).UnixMilli()
	if _, err := eng.DB().Exec(
		`UPDATE records SET last_access = ? WHERE key IN ('session-old', 'creds')`, ancient); err != nil {
		t.Fatalf("age records: %v", err)
	}

	if err := s.Vacuum(); err != nil {
		t.Fatalf("vacuum: %v", err)
	}

	if _, ok := s.Get("session-old"); ok {
		t.Error("aged composite key survived vacuum")
	}
	if _, ok := s.Get("session-new"); !ok {
		t.Error("fresh composite key removed by vacuum")
	}
	// non-composite keys are never vacuum candidates regardless of age
	if _, ok := s.Get("creds"); !ok {
		t.Error("non-composite key removed by vacuum")
	}
}

func TestVacuumSparesStagedWrites(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("session-1", []byte("old"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// the persisted row is aged, but a newer write is staged for it
	ancient := time.Now().Add(-2 * time.Hour).UnixMilli()
	if _, err := eng.DB().Exec(
		`UPDATE records SET last_access = ? WHERE key = 'session-1'`, ancient); err != nil {
		t.Fatalf("age record: %v", err)
	}
	s.Set("session-1", []byte("new"))

	if err := s.Vacuum(); err != nil {
		t.Fatalf("vacuum: %v", err)
	}

	// a get immediately after a set observes the new value, vacuum or not
	got, ok := s.Get("session-1")
	if !ok || !bytes.Equal(got, []byte("new")) {
		t.Fatalf("staged write invisible after vacuum: got (%q, %v), want (new, true)", got, ok)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, ok = s.Get("session-1")
	if !ok || !bytes.Equal(got, []byte("new")) {
		t.Fatalf("got (%q, %v) after flush, want (new, true)", got, ok)
	}
}

func TestVacuumFailureReturnsRateLimitWindow(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	impl := s.(*storeImpl)
	impl.opts.VacuumInterval = time.Hour

	if err := eng.Close(); err != nil {
		t.Fatalf("close engine: %v", err)
	}

	if err := s.Vacuum(); err == nil {
		t.Fatal("vacuum succeeded on a closed engine")
	}
	// the failed pass must not consume the window: a retry runs the pass
	// again instead of silently no-oping until the next interval
	if err := s.Vacuum(); err == nil {
		t.Fatal("retry was treated as a rate-limited no-op")
	}
}

func TestScanMergesBufferedAndPersisted(t *testing.T) {
	s, _ := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	s.Set("session-1", []byte("flushed"))
	s.Set("session-3", []byte("stale"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	s.Set("session-2", []byte("buffered"))
	s.Set("session-3", []byte("rewritten"))
	s.Delete("session-1")

	entries, err := s.Scan("session-*", 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Key != "session-2" || !bytes.Equal(entries[0].Value, []byte("buffered")) {
		t.Fatalf("unflushed write missing from scan: %v", entries)
	}
	if entries[1].Key != "session-3" || !bytes.Equal(entries[1].Value, []byte("rewritten")) {
		t.Fatalf("scan served the stale persisted value: %v", entries)
	}
}

func TestVacuumRateLimit(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	impl := s.(*storeImpl)
	impl.opts.VacuumInterval = time.Hour

	s.Set("session-old", []byte("aged"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := s.Vacuum(); err != nil {
		t.Fatalf("first vacuum: %v", err)
	}

	ancient := time.Now().Add(-2 * time.Hour).UnixMilli()
	if _, err := eng.DB().Exec(`UPDATE records SET last_access = ?`, ancient); err != nil {
		t.Fatalf("age records: %v", err)
	}

	// second call lands inside the rate-limit window and must be a no-op
	if err := s.Vacuum(); err != nil {
		t.Fatalf("rate-limited vacuum: %v", err)
	}
	if _, ok := s.Get("session-old"); !ok {
		t.Error("rate-limited vacuum removed records")
	}
}

func TestFlushFailureReturnsInternalError(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	s.Set("session-1", []byte("v"))
	if err := eng.Close(); err != nil {
		t.Fatalf("close engine: %v", err)
	}

	err := s.Flush()
	var storeErr *store.Error
	if !errors.As(err, &storeErr) || storeErr.Code != store.RetCInternalError {
		t.Fatalf("got %v, want InternalError", err)
	}

	// the staged write stays readable; it was re-staged, not dropped
	if got, ok := s.Get("session-1"); !ok || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("got (%q, %v) after failed flush", got, ok)
	}
}

func TestDisposeIsIdempotentAndTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, _ := newTestStore(t, path)

	s.Set("creds", []byte("secret"))
	s.Dispose()
	s.Dispose() // second call must be a silent no-op

	if !s.Disposed() {
		t.Fatal("Disposed = false after dispose")
	}
	if s.Set("creds", []byte("late")) {
		t.Error("set accepted after dispose")
	}
	if _, ok := s.Get("creds"); ok {
		t.Error("get served after dispose")
	}
	if _, err := s.Keys("*"); err == nil {
		t.Error("keys succeeded after dispose")
	}
	if err := s.Flush(); err == nil {
		t.Error("flush succeeded after dispose")
	}

	// disposal flushed the pending write; a fresh instance sees it
	s2, _ := newTestStore(t, path)
	defer s2.Dispose()
	got, ok := s2.Get("creds")
	if !ok || !bytes.Equal(got, []byte("secret")) {
		t.Fatalf("got (%q, %v) after reopen, want (secret, true)", got, ok)
	}
}

func TestDebouncedFlushFires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	eng, err := engine.Open(engine.DefaultConfig(path))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}

	opts := testOptions()
	opts.FlushDebounce = 20 * time.Millisecond
	s, err := NewDurableStore(eng, codec.NewJSONCodec(), opts)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer s.Dispose()

	s.Set("session-1", []byte("v"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var count int
		if err := eng.DB().QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err == nil && count == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debounced flush never persisted the write")
}

func TestCorruptRecordIsDroppedOnRead(t *testing.T) {
	s, eng := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Dispose()

	if _, err := eng.DB().Exec(
		`INSERT INTO records (key, value, last_access) VALUES ('broken', 'not an envelope', ?)`,
		time.Now().UnixMilli()); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	if _, ok := s.Get("broken"); ok {
		t.Fatal("corrupt record served as a value")
	}

	var count int
	if err := eng.DB().QueryRow(`SELECT COUNT(*) FROM records WHERE key = 'broken'`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatal("corrupt record kept on disk after read")
	}
}
