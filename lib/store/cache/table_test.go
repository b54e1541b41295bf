package cache

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/codec"
	"github.com/ValentinKolb/sKV/lib/engine"
	"github.com/ValentinKolb/sKV/lib/queue"
	"github.com/ValentinKolb/sKV/lib/store"
	storetesting "github.com/ValentinKolb/sKV/lib/store/testing"
)

// keyedAdapter exposes the cache table through the shared keyed-store
// contract, pinning the record type the suite does not care about.
type keyedAdapter struct {
	store.ICacheTable
}

func (a keyedAdapter) Set(key string, value []byte) bool {
	return a.AtomicSet(key, value, store.RecordTypeConfig)
}

func (a keyedAdapter) Increment(key string, amount int64) (int64, error) {
	return a.ICacheTable.Increment(key, amount, store.RecordTypeConfig)
}

func TestCacheTableContract(t *testing.T) {
	storetesting.RunKeyedStoreTests(t, "CacheTable", func() storetesting.KeyedStore {
		return keyedAdapter{newTestTable(t, nil)}
	})
}

// newTestTable returns a cache table with the background sweeper effectively
// disabled; tests drive maintenance explicitly via sweepOnce.
func newTestTable(t *testing.T, opts *Options) *tableImpl {
	t.Helper()

	eng, err := engine.Open(engine.MemoryConfig())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.SweepInterval = time.Hour

	table, err := NewCacheTable(eng, codec.NewJSONCodec(), opts)
	if err != nil {
		t.Fatalf("create cache table: %v", err)
	}
	impl := table.(*tableImpl)
	t.Cleanup(func() { _ = impl.Close() })
	return impl
}

// expireNow forces a row's deadline into the past.
func expireNow(t *testing.T, table *tableImpl, key string) {
	t.Helper()
	past := time.Now().Add(-time.Second).UnixMilli()
	if _, err := table.eng.DB().Exec(
		`UPDATE cache_entries SET expires_at = ? WHERE key = ?`, past, key); err != nil {
		t.Fatalf("expire %q: %v", key, err)
	}
}

func TestAtomicSetGetRoundTrip(t *testing.T) {
	table := newTestTable(t, nil)

	if !table.AtomicSet("presence-42", []byte("online"), store.RecordTypePresence) {
		t.Fatal("set failed")
	}

	got, ok := table.Get("presence-42")
	if !ok || !bytes.Equal(got, []byte("online")) {
		t.Fatalf("got (%q, %v), want (online, true)", got, ok)
	}
	if !table.Has("presence-42") {
		t.Fatal("Has = false for live entry")
	}
}

func TestSetValidation(t *testing.T) {
	table := newTestTable(t, nil)

	if table.AtomicSet("", []byte("v"), store.RecordTypeConfig) {
		t.Error("empty key accepted")
	}
	if table.AtomicSet("k", nil, store.RecordTypeConfig) {
		t.Error("nil value accepted")
	}
	if !table.AtomicSet("k", []byte{}, store.RecordTypeConfig) {
		t.Error("empty value rejected")
	}
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("typing-7", []byte("..."), store.RecordTypeTyping)
	expireNow(t, table, "typing-7")

	if _, ok := table.Get("typing-7"); ok {
		t.Error("Get served an expired entry")
	}
	if table.Has("typing-7") {
		t.Error("Has reported an expired entry")
	}
	keys, err := table.Keys("typing-*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys returned expired entries: %v", keys)
	}
}

func TestConfigEntriesNeverExpire(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("config-theme", []byte("dark"), store.RecordTypeConfig)

	var expiresAt any
	err := table.eng.DB().QueryRow(
		`SELECT expires_at FROM cache_entries WHERE key = 'config-theme'`).Scan(&expiresAt)
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if expiresAt != nil {
		t.Fatalf("config entry carries a deadline: %v", expiresAt)
	}
}

func TestOverwritePreservesAccessFrequency(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("chat-1", []byte("v1"), store.RecordTypeChat)
	table.bumpFrequency("chat-1")
	table.bumpFrequency("chat-1")
	table.AtomicSet("chat-1", []byte("v2"), store.RecordTypeChat)

	var freq int64
	err := table.eng.DB().QueryRow(
		`SELECT access_freq FROM cache_entries WHERE key = 'chat-1'`).Scan(&freq)
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if freq != 2 {
		t.Fatalf("access_freq = %d after overwrite, want 2", freq)
	}

	got, ok := table.Get("chat-1")
	if !ok || !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("got (%q, %v), want (v2, true)", got, ok)
	}
}

func TestScanHonorsPatternAndLimit(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("msg-1", []byte("a"), store.RecordTypeMessage)
	table.AtomicSet("msg-2", []byte("b"), store.RecordTypeMessage)
	table.AtomicSet("msg-3", []byte("c"), store.RecordTypeMessage)
	table.AtomicSet("call-1", []byte("x"), store.RecordTypeCall)

	entries, err := table.Scan("msg-*", 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Key == "call-1" {
			t.Error("scan matched outside the pattern")
		}
	}

	if entries, _ := table.Scan("msg-*", 0); entries != nil {
		t.Error("scan with zero limit returned entries")
	}
}

func TestMGetAndBulkGet(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("a", []byte("1"), store.RecordTypeConfig)
	table.AtomicSet("c", []byte("3"), store.RecordTypeConfig)
	table.AtomicSet("d", []byte("4"), store.RecordTypeTyping)
	expireNow(t, table, "d")

	values, err := table.MGet([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if !bytes.Equal(values[0], []byte("1")) || values[1] != nil ||
		!bytes.Equal(values[2], []byte("3")) || values[3] != nil {
		t.Fatalf("got %q, want [1 <nil> 3 <nil>]", values)
	}

	result, err := table.BulkGet([]string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("bulkget: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("got %d entries, want 2", len(result))
	}
}

func TestSetManyIsAtomic(t *testing.T) {
	table := newTestTable(t, nil)

	err := table.SetMany(map[string][]byte{
		"contact-1": []byte("alice"),
		"contact-2": []byte("bob"),
	}, store.RecordTypeContact)
	if err != nil {
		t.Fatalf("set many: %v", err)
	}
	if !table.Has("contact-1") || !table.Has("contact-2") {
		t.Fatal("batch write incomplete")
	}

	// one invalid pair rolls back the whole batch
	err = table.SetMany(map[string][]byte{
		"contact-3": []byte("carol"),
		"contact-4": nil,
	}, store.RecordTypeContact)
	if err == nil {
		t.Fatal("batch with nil value succeeded")
	}
	if table.Has("contact-3") {
		t.Error("partial batch visible after rollback")
	}
}

func TestIncrement(t *testing.T) {
	table := newTestTable(t, nil)

	n, err := table.Increment("unread-1", 3, store.RecordTypeChat)
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want (3, nil)", n, err)
	}
	n, err = table.Increment("unread-1", 2, store.RecordTypeChat)
	if err != nil || n != 5 {
		t.Fatalf("got (%d, %v), want (5, nil)", n, err)
	}

	table.AtomicSet("config-theme", []byte("dark"), store.RecordTypeConfig)
	if _, err := table.Increment("config-theme", 1, store.RecordTypeConfig); err == nil {
		t.Fatal("increment of non-numeric value succeeded")
	} else {
		var storeErr *store.Error
		if !errors.As(err, &storeErr) || storeErr.Code != store.RetCInvalidOperation {
			t.Fatalf("got %v, want InvalidOperation", err)
		}
	}

	// an expired counter restarts instead of resuming
	table.Increment("unread-2", 9, store.RecordTypeChat)
	expireNow(t, table, "unread-2")
	n, err = table.Increment("unread-2", 1, store.RecordTypeChat)
	if err != nil || n != 1 {
		t.Fatalf("got (%d, %v) for expired counter, want (1, nil)", n, err)
	}
}

func TestSweepRemovesExpiredRows(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("typing-1", []byte("..."), store.RecordTypeTyping)
	table.AtomicSet("config-keep", []byte("v"), store.RecordTypeConfig)
	expireNow(t, table, "typing-1")

	table.sweepOnce()

	var count int
	if err := table.eng.DB().QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows after sweep, want 1", count)
	}
}

func TestEvictionOrdersByFrequencyThenAge(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPersistent = 2
	table := newTestTable(t, opts)

	table.AtomicSet("config-cold", []byte("v"), store.RecordTypeConfig)
	table.AtomicSet("config-warm", []byte("v"), store.RecordTypeConfig)
	table.AtomicSet("config-hot", []byte("v"), store.RecordTypeConfig)

	table.bumpFrequency("config-warm")
	table.bumpFrequency("config-hot")
	table.bumpFrequency("config-hot")

	table.sweepOnce()

	if table.Has("config-cold") {
		t.Error("least used entry survived eviction")
	}
	if !table.Has("config-warm") || !table.Has("config-hot") {
		t.Error("frequently used entries evicted")
	}
}

func TestEvictionSparesExpiringRows(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPersistent = 1
	table := newTestTable(t, opts)

	table.AtomicSet("config-1", []byte("v"), store.RecordTypeConfig)
	table.AtomicSet("msg-1", []byte("v"), store.RecordTypeMessage)
	table.AtomicSet("msg-2", []byte("v"), store.RecordTypeMessage)

	table.sweepOnce()

	// TTL-bounded rows are never part of the capacity eviction
	if !table.Has("msg-1") || !table.Has("msg-2") {
		t.Error("TTL-bounded entries evicted by capacity pass")
	}
	if !table.Has("config-1") {
		t.Error("persistent entry inside capacity evicted")
	}
}

func TestHealthSnapshot(t *testing.T) {
	opts := DefaultOptions()
	opts.QueueStats = func() queue.Stats {
		return queue.Stats{Depth: 4, InFlight: 2, Dropped: 7}
	}
	table := newTestTable(t, opts)

	table.AtomicSet("presence-1", []byte("online"), store.RecordTypePresence)
	table.AtomicSet("presence-2", []byte("away"), store.RecordTypePresence)
	table.AtomicSet("config-theme", []byte("dark"), store.RecordTypeConfig)
	table.AtomicSet("typing-1", []byte("..."), store.RecordTypeTyping)
	expireNow(t, table, "typing-1")

	snapshot := table.Health()

	if snapshot.TotalEntries != 3 {
		t.Errorf("TotalEntries = %d, want 3 (expired rows excluded)", snapshot.TotalEntries)
	}
	if snapshot.EntriesByType["presence"] != 2 || snapshot.EntriesByType["config"] != 1 {
		t.Errorf("EntriesByType = %v", snapshot.EntriesByType)
	}
	if snapshot.ApproxValueBytes <= 0 {
		t.Errorf("ApproxValueBytes = %d, want > 0", snapshot.ApproxValueBytes)
	}
	if snapshot.QueueDepth != 4 || snapshot.InFlight != 2 || snapshot.DroppedEvents != 7 {
		t.Errorf("queue pressure not reflected: %+v", snapshot)
	}
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	table := newTestTable(t, nil)

	table.AtomicSet("k", []byte("v"), store.RecordTypeConfig)

	if err := table.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if table.AtomicSet("k", []byte("v"), store.RecordTypeConfig) {
		t.Error("set accepted after close")
	}
	if _, ok := table.Get("k"); ok {
		t.Error("get served after close")
	}
	if _, err := table.Keys("*"); err == nil {
		t.Error("keys succeeded after close")
	}
}
