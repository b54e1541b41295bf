package testing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ValentinKolb/sKV/lib/store"
)

// KeyedStore is the keyed-access contract shared by the durable store and the
// cache entry table. The suite exercises the behavior both implementations
// must agree on: validation, round trips, pattern lookup, batch reads and
// counter semantics.
type KeyedStore interface {
	Set(key string, value []byte) bool
	Get(key string) ([]byte, bool)
	Delete(key string) bool
	Has(key string) bool
	Keys(pattern string) ([]string, error)
	Scan(pattern string, limit int) ([]store.Entry, error)
	MGet(keys []string) ([][]byte, error)
	BulkGet(keys []string) (map[string][]byte, error)
	Increment(key string, amount int64) (int64, error)
}

// StoreFactory is a function that creates a fresh store instance
type StoreFactory func() KeyedStore

// RunKeyedStoreTests runs the shared contract test suite for a keyed store
// implementation.
func RunKeyedStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Validation", func(t *testing.T) {
			testValidation(t, factory())
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("MGet&BulkGet", func(t *testing.T) {
			testBatchReads(t, factory())
		})

		t.Run("Increment", func(t *testing.T) {
			testIncrement(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s KeyedStore) {
	if !s.Set("session-1", []byte("v1")) {
		t.Fatal("set failed")
	}
	if got, ok := s.Get("session-1"); !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("got (%q, %v), want (v1, true)", got, ok)
	}

	// last writer wins
	if !s.Set("session-1", []byte("v2")) {
		t.Fatal("overwrite failed")
	}
	if got, _ := s.Get("session-1"); !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("got %q after overwrite, want v2", got)
	}

	if _, ok := s.Get("absent"); ok {
		t.Fatal("Get reported a missing key as present")
	}
}

func testDelete(t *testing.T, s KeyedStore) {
	s.Set("session-1", []byte("v"))
	if !s.Delete("session-1") {
		t.Fatal("delete failed")
	}
	if _, ok := s.Get("session-1"); ok {
		t.Fatal("value readable after delete")
	}
	if s.Has("session-1") {
		t.Fatal("Has reports a deleted key")
	}
}

func testHas(t *testing.T, s KeyedStore) {
	if s.Has("absent") {
		t.Fatal("Has reports a missing key")
	}
	s.Set("creds", []byte("v"))
	if !s.Has("creds") {
		t.Fatal("Has misses a stored key")
	}
}

func testValidation(t *testing.T, s KeyedStore) {
	if s.Set("", []byte("v")) {
		t.Error("empty key accepted")
	}
	if s.Set(strings.Repeat("k", 512), []byte("v")) {
		t.Error("oversized key accepted")
	}
	if s.Set("k", nil) {
		t.Error("nil value accepted")
	}
	if !s.Set("k", []byte{}) {
		t.Error("explicit null rejected")
	}
	if got, ok := s.Get("k"); !ok || len(got) != 0 {
		t.Errorf("got (%q, %v) for explicit null, want empty value", got, ok)
	}
	if !s.Set(strings.Repeat("k", 511), []byte("max")) {
		t.Error("maximum-length key rejected")
	}
}

func testKeys(t *testing.T, s KeyedStore) {
	s.Set("session-1", []byte("a"))
	s.Set("session-2", []byte("b"))
	s.Set("creds", []byte("c"))

	keys, err := s.Keys("session-*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "session-1" || keys[1] != "session-2" {
		t.Fatalf("got %v, want [session-1 session-2]", keys)
	}

	// a pattern without wildcard is an exact match
	keys, err = s.Keys("creds")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "creds" {
		t.Fatalf("got %v, want [creds]", keys)
	}

	keys, err = s.Keys("absent-*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("got %v for a non-matching pattern", keys)
	}
}

func testScan(t *testing.T, s KeyedStore) {
	s.Set("session-1", []byte("a"))
	s.Set("session-2", []byte("b"))
	s.Set("session-3", []byte("c"))
	s.Set("creds", []byte("x"))

	entries, err := s.Scan("session-*", 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Key != "session-1" || !bytes.Equal(entries[0].Value, []byte("a")) ||
		entries[1].Key != "session-2" || !bytes.Equal(entries[1].Value, []byte("b")) {
		t.Fatalf("got %v, want session-1/a and session-2/b", entries)
	}

	if entries, _ := s.Scan("session-*", 0); entries != nil {
		t.Error("scan with zero limit returned entries")
	}

	entries, err = s.Scan("absent-*", 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %v for a non-matching pattern", entries)
	}
}

func testBatchReads(t *testing.T, s KeyedStore) {
	s.Set("a", []byte("1"))
	s.Set("c", []byte("3"))

	values, err := s.MGet([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(values) != 3 || !bytes.Equal(values[0], []byte("1")) ||
		values[1] != nil || !bytes.Equal(values[2], []byte("3")) {
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

func testIncrement(t *testing.T, s KeyedStore) {
	n, err := s.Increment("counter", 5)
	if err != nil || n != 5 {
		t.Fatalf("got (%d, %v), want (5, nil)", n, err)
	}
	n, err = s.Increment("counter", -2)
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want (3, nil)", n, err)
	}

	s.Set("text", []byte("not a number"))
	if _, err := s.Increment("text", 1); err == nil {
		t.Fatal("increment of non-numeric value succeeded")
	}
}
