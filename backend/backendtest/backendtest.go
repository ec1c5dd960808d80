// Package backendtest is the conformance suite every backend adapter runs.
//
//	func TestConformance(t *testing.T) {
//		backendtest.RunBackendTests(t, "pebble", pebble.Open)
//	}
package backendtest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Giulio2002/gkv/backend"
)

// RunBackendTests runs the conformance suite against open.
func RunBackendTests(t *testing.T, name string, open backend.OpenFunc) {
	t.Run(name, func(t *testing.T) {
		t.Run("Databases", func(t *testing.T) { testDatabases(t, open) })
		t.Run("GetPut", func(t *testing.T) { testGetPut(t, open) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, open) })
		t.Run("Iteration", func(t *testing.T) { testIteration(t, open) })
		t.Run("DupSort", func(t *testing.T) { testDupSort(t, open) })
		t.Run("DupSortZeroBytes", func(t *testing.T) { testDupSortZeroBytes(t, open) })
		t.Run("IterDupFrom", func(t *testing.T) { testIterDupFrom(t, open) })
		t.Run("PrevDupFrom", func(t *testing.T) { testPrevDupFrom(t, open) })
		t.Run("PrevDupFromPlain", func(t *testing.T) { testPrevDupFromPlain(t, open) })
		t.Run("CursorConsumed", func(t *testing.T) { testCursorConsumed(t, open) })
		t.Run("FinishedTxn", func(t *testing.T) { testFinishedTxn(t, open) })
		t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, open) })
		t.Run("TryBeginRw", func(t *testing.T) { testTryBeginRw(t, open) })
		t.Run("Clear", func(t *testing.T) { testClear(t, open) })
		t.Run("KeySize", func(t *testing.T) { testKeySize(t, open) })
		t.Run("StatInfo", func(t *testing.T) { testStatInfo(t, open) })
		t.Run("Persistence", func(t *testing.T) { testPersistence(t, open) })
		t.Run("ReadOnly", func(t *testing.T) { testReadOnly(t, open) })
		t.Run("MissingDir", func(t *testing.T) { testMissingDir(t, open) })
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// TempDir creates a directory removed at the end of the test.
func TempDir(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gkv-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func openEnv(t *testing.T, open backend.OpenFunc, path string, cfg backend.Config) backend.Environment {
	t.Helper()
	env, err := open(path, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return env
}

func freshEnv(t *testing.T, open backend.OpenFunc) backend.Environment {
	t.Helper()
	env := openEnv(t, open, filepath.Join(TempDir(t), "env"), testConfig())
	t.Cleanup(func() { env.Close() })
	return env
}

func testConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	cfg.MapSize = 64 << 20
	return cfg
}

func createDB(t *testing.T, env backend.Environment, name string, flags backend.DatabaseFlags) backend.Database {
	t.Helper()
	db, err := env.CreateDatabase(name, flags)
	if err != nil {
		t.Fatalf("CreateDatabase(%s) failed: %v", name, err)
	}
	return db
}

func update(t *testing.T, env backend.Environment, fn func(txn backend.RwTransaction)) {
	t.Helper()
	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	fn(txn)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func view(t *testing.T, env backend.Environment, fn func(txn backend.RoTransaction)) {
	t.Helper()
	txn, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	defer txn.Abort()
	fn(txn)
}

func put(t *testing.T, txn backend.RwTransaction, db backend.Database, key, value string) {
	t.Helper()
	if err := txn.Put(db, []byte(key), []byte(value), backend.WriteDefaults); err != nil {
		t.Fatalf("Put(%s, %s) failed: %v", key, value, err)
	}
}

type pair struct{ k, v string }

func (p pair) String() string { return p.k + "=" + p.v }

func drain(t *testing.T, it backend.Iter) []pair {
	t.Helper()
	defer it.Close()
	var out []pair
	for it.Next() {
		out = append(out, pair{string(it.Key()), string(it.Value())})
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return out
}

func expectPairs(t *testing.T, what string, got []pair, want ...pair) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
}

func expectCode(t *testing.T, what string, err error, code backend.ErrorCode) {
	t.Helper()
	if backend.Code(err) != code {
		t.Fatalf("%s: expected code %d, got %v", what, code, err)
	}
}

func roCursor(t *testing.T, txn backend.RoTransaction, db backend.Database) backend.RoCursor {
	t.Helper()
	c, err := txn.OpenRoCursor(db)
	if err != nil {
		t.Fatalf("OpenRoCursor failed: %v", err)
	}
	return c
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func testDatabases(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)

	_, err := env.OpenDatabase("missing")
	if !backend.IsDatabaseNotFound(err) {
		t.Fatalf("OpenDatabase(missing): expected ErrDatabaseNotFound, got %v", err)
	}

	createDB(t, env, "plain", backend.DBDefaults)
	createDB(t, env, "multi", backend.DBDupSort)

	db, err := env.OpenDatabase("multi")
	if err != nil {
		t.Fatalf("OpenDatabase(multi) failed: %v", err)
	}
	if db.Name() != "multi" {
		t.Errorf("Name() = %q", db.Name())
	}
	if db.Flags()&backend.DBDupSort == 0 {
		t.Errorf("DupSort flag lost: %x", db.Flags())
	}

	// Reopening with other flags keeps the stored shape.
	again := createDB(t, env, "plain", backend.DBDupSort)
	if again.Flags()&backend.DBDupSort != 0 {
		t.Errorf("CreateDatabase changed the flags of an existing database")
	}

	names, err := env.DatabaseNames()
	if err != nil {
		t.Fatalf("DatabaseNames failed: %v", err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["plain"] || !seen["multi"] {
		t.Fatalf("DatabaseNames = %v", names)
	}
}

func testGetPut(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)

	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "a", "1")
		put(t, txn, db, "b", "2")

		// read your own writes
		v, err := txn.Get(db, []byte("a"))
		if err != nil || string(v) != "1" {
			t.Fatalf("Get(a) in rw = %q, %v", v, err)
		}

		err = txn.Put(db, []byte("a"), []byte("x"), backend.WriteNoOverwrite)
		expectCode(t, "Put NoOverwrite", err, backend.ErrKeyExist)

		put(t, txn, db, "b", "22")
	})

	view(t, env, func(txn backend.RoTransaction) {
		v, err := txn.Get(db, []byte("a"))
		if err != nil || string(v) != "1" {
			t.Fatalf("Get(a) = %q, %v", v, err)
		}
		v, err = txn.Get(db, []byte("b"))
		if err != nil || string(v) != "22" {
			t.Fatalf("Get(b) = %q, %v", v, err)
		}
		_, err = txn.Get(db, []byte("zz"))
		if !backend.IsNotFound(err) {
			t.Fatalf("Get(zz): expected ErrNotFound, got %v", err)
		}
	})
}

func testDelete(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)

	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "a", "1")
	})
	update(t, env, func(txn backend.RwTransaction) {
		if err := txn.Delete(db, []byte("a"), nil); err != nil {
			t.Fatalf("Delete(a) failed: %v", err)
		}
		expectCode(t, "Delete(a) twice", txn.Delete(db, []byte("a"), nil), backend.ErrNotFound)
	})
	view(t, env, func(txn backend.RoTransaction) {
		if _, err := txn.Get(db, []byte("a")); !backend.IsNotFound(err) {
			t.Fatalf("Get after Delete: %v", err)
		}
	})
}

func testIteration(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)
	empty := createDB(t, env, "empty", backend.DBDefaults)

	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "c", "3")
		put(t, txn, db, "a", "1")
		put(t, txn, db, "e", "5")
	})

	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "Iter", drain(t, roCursor(t, txn, db).Iter()),
			pair{"a", "1"}, pair{"c", "3"}, pair{"e", "5"})
		expectPairs(t, "IterFrom(b)", drain(t, roCursor(t, txn, db).IterFrom([]byte("b"))),
			pair{"c", "3"}, pair{"e", "5"})
		expectPairs(t, "IterFrom(c)", drain(t, roCursor(t, txn, db).IterFrom([]byte("c"))),
			pair{"c", "3"}, pair{"e", "5"})
		expectPairs(t, "IterFrom(f)", drain(t, roCursor(t, txn, db).IterFrom([]byte("f"))))
		expectPairs(t, "IterPrev", drain(t, roCursor(t, txn, db).IterPrev()),
			pair{"e", "5"}, pair{"c", "3"}, pair{"a", "1"})
		expectPairs(t, "IterDupOf(c)", drain(t, roCursor(t, txn, db).IterDupOf([]byte("c"))),
			pair{"c", "3"})
		expectPairs(t, "IterDupOf(b)", drain(t, roCursor(t, txn, db).IterDupOf([]byte("b"))))

		expectPairs(t, "empty Iter", drain(t, roCursor(t, txn, empty).Iter()))
		expectPairs(t, "empty IterPrev", drain(t, roCursor(t, txn, empty).IterPrev()))
	})
}

func testDupSort(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "d", backend.DBDupSort)

	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "k", "b")
		put(t, txn, db, "k", "a")
		put(t, txn, db, "k", "c")
		put(t, txn, db, "j", "z")

		// exact duplicate is a successful no-op
		put(t, txn, db, "k", "a")

		err := txn.Put(db, []byte("k"), []byte("a"), backend.WriteNoDupData)
		expectCode(t, "Put NoDupData", err, backend.ErrKeyExist)

		err = txn.Put(db, []byte("k"), []byte("q"), backend.WriteNoOverwrite)
		expectCode(t, "Put NoOverwrite", err, backend.ErrKeyExist)
	})

	view(t, env, func(txn backend.RoTransaction) {
		v, err := txn.Get(db, []byte("k"))
		if err != nil || string(v) != "a" {
			t.Fatalf("Get(k) = %q, %v; want smallest duplicate", v, err)
		}
		expectPairs(t, "IterDupOf(k)", drain(t, roCursor(t, txn, db).IterDupOf([]byte("k"))),
			pair{"k", "a"}, pair{"k", "b"}, pair{"k", "c"})
		expectPairs(t, "Iter", drain(t, roCursor(t, txn, db).Iter()),
			pair{"j", "z"}, pair{"k", "a"}, pair{"k", "b"}, pair{"k", "c"})
		expectPairs(t, "IterPrev", drain(t, roCursor(t, txn, db).IterPrev()),
			pair{"k", "c"}, pair{"k", "b"}, pair{"k", "a"}, pair{"j", "z"})

		ok, err := roCursor(t, txn, db).GetKeyValue([]byte("k"), []byte("b"))
		if err != nil || !ok {
			t.Fatalf("GetKeyValue(k, b) = %v, %v", ok, err)
		}
		ok, err = roCursor(t, txn, db).GetKeyValue([]byte("k"), []byte("x"))
		if err != nil || ok {
			t.Fatalf("GetKeyValue(k, x) = %v, %v", ok, err)
		}

		st, err := txn.Stat(db)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if st.Entries != 4 {
			t.Errorf("Stat.Entries = %d, want 4", st.Entries)
		}
	})

	update(t, env, func(txn backend.RwTransaction) {
		if err := txn.Delete(db, []byte("k"), []byte("b")); err != nil {
			t.Fatalf("Delete(k, b) failed: %v", err)
		}
		expectCode(t, "Delete(k, missing)", txn.Delete(db, []byte("k"), []byte("missing")), backend.ErrNotFound)
	})
	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "after Delete(k, b)", drain(t, roCursor(t, txn, db).IterDupOf([]byte("k"))),
			pair{"k", "a"}, pair{"k", "c"})
	})

	update(t, env, func(txn backend.RwTransaction) {
		if err := txn.Delete(db, []byte("k"), nil); err != nil {
			t.Fatalf("Delete(k, nil) failed: %v", err)
		}
		expectCode(t, "Delete(k, nil) twice", txn.Delete(db, []byte("k"), nil), backend.ErrNotFound)
	})
	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "after Delete(k, nil)", drain(t, roCursor(t, txn, db).Iter()),
			pair{"j", "z"})
	})
}

func testDupSortZeroBytes(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "d", backend.DBDupSort)

	keys := []string{"a", "a\x00", "a\x00b", "a\x01", "ab"}
	update(t, env, func(txn backend.RwTransaction) {
		for i := len(keys) - 1; i >= 0; i-- {
			put(t, txn, db, keys[i], "\x00v")
			put(t, txn, db, keys[i], "v")
		}
	})

	view(t, env, func(txn backend.RoTransaction) {
		var want []pair
		for _, k := range keys {
			want = append(want, pair{k, "\x00v"}, pair{k, "v"})
		}
		expectPairs(t, "Iter", drain(t, roCursor(t, txn, db).Iter()), want...)
		expectPairs(t, "IterDupOf(a\\x00)", drain(t, roCursor(t, txn, db).IterDupOf([]byte("a\x00"))),
			pair{"a\x00", "\x00v"}, pair{"a\x00", "v"})
		expectPairs(t, "IterFrom(a\\x00a)", drain(t, roCursor(t, txn, db).IterFrom([]byte("a\x00a")))[:2],
			pair{"a\x00b", "\x00v"}, pair{"a\x00b", "v"})
	})
}

func testIterDupFrom(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "d", backend.DBDupSort)

	update(t, env, func(txn backend.RwTransaction) {
		for _, v := range []string{"10", "20", "30"} {
			put(t, txn, db, "k", v)
		}
		put(t, txn, db, "l", "00")
	})

	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "IterDupFrom(k, 15)", drain(t, roCursor(t, txn, db).IterDupFrom([]byte("k"), []byte("15"))),
			pair{"k", "20"}, pair{"k", "30"})
		expectPairs(t, "IterDupFrom(k, 20)", drain(t, roCursor(t, txn, db).IterDupFrom([]byte("k"), []byte("20"))),
			pair{"k", "20"}, pair{"k", "30"})
		expectPairs(t, "IterDupFrom(k, 31)", drain(t, roCursor(t, txn, db).IterDupFrom([]byte("k"), []byte("31"))))
		expectPairs(t, "IterDupFrom(m, 00)", drain(t, roCursor(t, txn, db).IterDupFrom([]byte("m"), []byte("00"))))
	})
}

type dupGroup struct {
	key  string
	vals []string
}

func drainDup(t *testing.T, it backend.DupIter) []dupGroup {
	t.Helper()
	defer it.Close()
	var out []dupGroup
	for it.Next() {
		g := dupGroup{key: string(it.Key())}
		dups := it.Dups()
		for dups.Next() {
			g.vals = append(g.vals, string(dups.Value()))
		}
		if err := dups.Err(); err != nil {
			t.Fatalf("dups iteration failed: %v", err)
		}
		out = append(out, g)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("dup iteration failed: %v", err)
	}
	return out
}

func rwCursor(t *testing.T, txn backend.RwTransaction, db backend.Database) backend.RwCursor {
	t.Helper()
	c, err := txn.OpenRwCursor(db)
	if err != nil {
		t.Fatalf("OpenRwCursor failed: %v", err)
	}
	return c
}

func testPrevDupFrom(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "d", backend.DBDupSort)

	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	defer txn.Abort()
	for _, k := range []string{"1", "2", "4"} {
		put(t, txn, db, k, k+"a")
		put(t, txn, db, k, k+"b")
	}

	got := fmt.Sprint(drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("4"))))
	if want := "[{4 [4b 4a]} {2 [2b 2a]} {1 [1b 1a]}]"; got != want {
		t.Fatalf("IterPrevDupFrom(4) = %s, want %s", got, want)
	}

	got = fmt.Sprint(drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("3"))))
	if want := "[{2 [2b 2a]} {1 [1b 1a]}]"; got != want {
		t.Fatalf("IterPrevDupFrom(3) = %s, want %s", got, want)
	}

	got = fmt.Sprint(drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("9"))))
	if want := "[{4 [4b 4a]} {2 [2b 2a]} {1 [1b 1a]}]"; got != want {
		t.Fatalf("IterPrevDupFrom(9) = %s, want %s", got, want)
	}

	if got := drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("0"))); len(got) != 0 {
		t.Fatalf("IterPrevDupFrom(0) = %v, want nothing", got)
	}

	// Skipping a key's duplicates without reading them.
	it := rwCursor(t, txn, db).IterPrevDupFrom([]byte("4"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Close()
	if fmt.Sprint(keys) != "[4 2 1]" {
		t.Fatalf("keys without Dups = %v", keys)
	}

	// Reading only the first duplicate of each key.
	it = rwCursor(t, txn, db).IterPrevDupFrom([]byte("4"))
	var firsts []string
	for it.Next() {
		d := it.Dups()
		if d.Next() {
			firsts = append(firsts, string(d.Value()))
		}
	}
	it.Close()
	if fmt.Sprint(firsts) != "[4b 2b 1b]" {
		t.Fatalf("first dups = %v", firsts)
	}
}

func testPrevDupFromPlain(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "p", backend.DBDefaults)

	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	defer txn.Abort()
	put(t, txn, db, "1", "x")
	put(t, txn, db, "3", "y")

	got := fmt.Sprint(drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("2"))))
	if want := "[{1 [x]}]"; got != want {
		t.Fatalf("IterPrevDupFrom(2) = %s, want %s", got, want)
	}
	got = fmt.Sprint(drainDup(t, rwCursor(t, txn, db).IterPrevDupFrom([]byte("3"))))
	if want := "[{3 [y]} {1 [x]}]"; got != want {
		t.Fatalf("IterPrevDupFrom(3) = %s, want %s", got, want)
	}
}

func testCursorConsumed(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)
	update(t, env, func(txn backend.RwTransaction) { put(t, txn, db, "a", "1") })

	view(t, env, func(txn backend.RoTransaction) {
		c := roCursor(t, txn, db)
		first := c.Iter()
		second := c.Iter()
		defer first.Close()
		defer second.Close()

		if second.Next() {
			t.Fatal("second iterator from one cursor yielded an entry")
		}
		expectCode(t, "second Iter", second.Err(), backend.ErrBadCursor)

		if !first.Next() || string(first.Key()) != "a" {
			t.Fatal("first iterator lost its entry")
		}

		_, err := c.GetKeyValue([]byte("a"), []byte("1"))
		expectCode(t, "GetKeyValue on consumed cursor", err, backend.ErrBadCursor)
	})
}

func testFinishedTxn(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)

	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	put(t, txn, db, "a", "1")
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	txn.Abort() // no-op after commit

	expectCode(t, "Put after Commit", txn.Put(db, []byte("b"), []byte("2"), 0), backend.ErrBadTxn)
	_, err = txn.Get(db, []byte("a"))
	expectCode(t, "Get after Commit", err, backend.ErrBadTxn)
	expectCode(t, "Commit twice", txn.Commit(), backend.ErrBadTxn)
	_, err = txn.OpenRoCursor(db)
	expectCode(t, "OpenRoCursor after Commit", err, backend.ErrBadTxn)

	ro, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	ro.Abort()
	ro.Abort()
	_, err = ro.Get(db, []byte("a"))
	expectCode(t, "Get after Abort", err, backend.ErrBadTxn)
}

func testSnapshotIsolation(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)
	update(t, env, func(txn backend.RwTransaction) { put(t, txn, db, "a", "old") })

	ro, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	defer ro.Abort()

	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "a", "new")
		put(t, txn, db, "b", "new")
	})

	v, err := ro.Get(db, []byte("a"))
	if err != nil || string(v) != "old" {
		t.Fatalf("snapshot Get(a) = %q, %v", v, err)
	}
	if _, err := ro.Get(db, []byte("b")); !backend.IsNotFound(err) {
		t.Fatalf("snapshot sees b: %v", err)
	}

	view(t, env, func(txn backend.RoTransaction) {
		v, err := txn.Get(db, []byte("a"))
		if err != nil || string(v) != "new" {
			t.Fatalf("fresh Get(a) = %q, %v", v, err)
		}
	})
}

func testTryBeginRw(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	tb, ok := env.(backend.TryBeginner)
	if !ok {
		t.Skip("environment does not implement TryBeginner")
	}

	txn, err := tb.TryBeginRw()
	if err != nil {
		t.Fatalf("TryBeginRw failed: %v", err)
	}
	_, err = tb.TryBeginRw()
	if !backend.IsBusy(err) {
		t.Fatalf("second TryBeginRw: expected ErrBusy, got %v", err)
	}
	txn.Abort()

	txn, err = tb.TryBeginRw()
	if err != nil {
		t.Fatalf("TryBeginRw after Abort failed: %v", err)
	}
	txn.Abort()
}

func testClear(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "d", backend.DBDupSort)
	other := createDB(t, env, "o", backend.DBDefaults)

	update(t, env, func(txn backend.RwTransaction) {
		for i := 0; i < 50; i++ {
			put(t, txn, db, fmt.Sprintf("k%02d", i%7), fmt.Sprintf("v%02d", i))
		}
		put(t, txn, other, "keep", "me")
	})
	update(t, env, func(txn backend.RwTransaction) {
		if err := txn.Clear(db); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
	})
	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "after Clear", drain(t, roCursor(t, txn, db).Iter()))
		v, err := txn.Get(other, []byte("keep"))
		if err != nil || string(v) != "me" {
			t.Fatalf("Clear touched another database: %q, %v", v, err)
		}
	})
}

func testKeySize(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)

	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	defer txn.Abort()

	expectCode(t, "empty key", txn.Put(db, nil, []byte("v"), 0), backend.ErrBadValSize)
	big := bytes.Repeat([]byte{'k'}, backend.MaxKeySize+1)
	expectCode(t, "oversized key", txn.Put(db, big, []byte("v"), 0), backend.ErrBadValSize)
	if err := txn.Put(db, big[:backend.MaxKeySize], []byte("v"), 0); err != nil {
		t.Fatalf("Put with MaxKeySize key failed: %v", err)
	}
}

func testStatInfo(t *testing.T, open backend.OpenFunc) {
	env := freshEnv(t, open)
	db := createDB(t, env, "t", backend.DBDefaults)

	before, err := env.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	update(t, env, func(txn backend.RwTransaction) {
		for i := 0; i < 10; i++ {
			put(t, txn, db, fmt.Sprintf("k%d", i), "v")
		}
	})
	after, err := env.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if after.LastTxnID <= before.LastTxnID {
		t.Errorf("LastTxnID did not advance: %d -> %d", before.LastTxnID, after.LastTxnID)
	}
	if after.MapSize == 0 || after.MaxReaders == 0 {
		t.Errorf("Info = %+v", after)
	}

	st, err := env.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.PageSize == 0 {
		t.Errorf("Stat.PageSize = 0")
	}

	view(t, env, func(txn backend.RoTransaction) {
		st, err := txn.Stat(db)
		if err != nil {
			t.Fatalf("txn Stat failed: %v", err)
		}
		if st.Entries != 10 {
			t.Errorf("Entries = %d, want 10", st.Entries)
		}
	})

	if len(env.Files()) == 0 {
		t.Errorf("Files() is empty")
	}
	if env.Version() == "" {
		t.Errorf("Version() is empty")
	}
}

func testPersistence(t *testing.T, open backend.OpenFunc) {
	path := filepath.Join(TempDir(t), "env")
	cfg := testConfig()

	env := openEnv(t, open, path, cfg)
	db := createDB(t, env, "d", backend.DBDupSort)
	update(t, env, func(txn backend.RwTransaction) {
		put(t, txn, db, "2", "b")
		put(t, txn, db, "1", "z")
		put(t, txn, db, "1", "a")
	})
	if err := env.Sync(true); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	env = openEnv(t, open, path, cfg)
	defer env.Close()
	db, err := env.OpenDatabase("d")
	if err != nil {
		t.Fatalf("OpenDatabase after reopen failed: %v", err)
	}
	if db.Flags()&backend.DBDupSort == 0 {
		t.Fatalf("DupSort flag not persisted")
	}
	view(t, env, func(txn backend.RoTransaction) {
		expectPairs(t, "after reopen", drain(t, roCursor(t, txn, db).Iter()),
			pair{"1", "a"}, pair{"1", "z"}, pair{"2", "b"})
	})
}

func testReadOnly(t *testing.T, open backend.OpenFunc) {
	path := filepath.Join(TempDir(t), "env")
	cfg := testConfig()

	env := openEnv(t, open, path, cfg)
	db := createDB(t, env, "t", backend.DBDefaults)
	update(t, env, func(txn backend.RwTransaction) { put(t, txn, db, "a", "1") })
	env.Close()

	cfg.Flags |= backend.EnvReadOnly
	env = openEnv(t, open, path, cfg)
	defer env.Close()

	if _, err := env.BeginRw(); err == nil {
		t.Fatal("BeginRw on a read-only environment succeeded")
	}
	db, err := env.OpenDatabase("t")
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	view(t, env, func(txn backend.RoTransaction) {
		v, err := txn.Get(db, []byte("a"))
		if err != nil || string(v) != "1" {
			t.Fatalf("Get(a) = %q, %v", v, err)
		}
	})
}

func testMissingDir(t *testing.T, open backend.OpenFunc) {
	path := filepath.Join(TempDir(t), "does", "not", "exist")
	cfg := testConfig()
	cfg.MakeDirIfNeeded = false

	env, err := open(path, cfg)
	if err == nil {
		env.Close()
		t.Fatal("Open of a missing directory succeeded")
	}
	expectCode(t, "Open missing dir", err, backend.ErrDirNotFound)
}
