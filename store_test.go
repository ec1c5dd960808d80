package gkv

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
	"github.com/Giulio2002/gkv/backend/bolt"
	"github.com/Giulio2002/gkv/backend/leveldb"
	"github.com/Giulio2002/gkv/backend/mdbx"
	"github.com/Giulio2002/gkv/backend/pebble"
	"github.com/Giulio2002/gkv/backend/safe"
)

var engines = []struct {
	name string
	open backend.OpenFunc
}{
	{"mdbx", mdbx.Open},
	{"safe", safe.Open},
	{"bolt", bolt.Open},
	{"pebble", pebble.Open},
	{"leveldb", leveldb.Open},
}

func testConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	cfg.MapSize = 64 << 20
	return cfg
}

// forEachEngine runs fn once per engine with a fresh environment path.
func forEachEngine(t *testing.T, fn func(t *testing.T, open backend.OpenFunc, path string)) {
	for _, e := range engines {
		e := e
		t.Run(e.name, func(t *testing.T) {
			fn(t, e.open, filepath.Join(backendtest.TempDir(t), "env"))
		})
	}
}

func openRkv(t *testing.T, open backend.OpenFunc, path string) *Rkv {
	t.Helper()
	rkv, err := Open(open, path, testConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return rkv
}

func freshRkv(t *testing.T, open backend.OpenFunc, path string) *Rkv {
	t.Helper()
	rkv := openRkv(t, open, path)
	t.Cleanup(func() { rkv.Close() })
	return rkv
}

func mustUpdate(t *testing.T, rkv *Rkv, fn func(w *Writer) error) {
	t.Helper()
	if err := rkv.Update(fn); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func mustRead(t *testing.T, rkv *Rkv) *Reader {
	t.Helper()
	r, err := rkv.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	t.Cleanup(r.Abort)
	return r
}

// drain returns a function that consumes an iterator and returns the
// string form of every value.
func drain(t *testing.T) func(it *Iter, err error) []string {
	return func(it *Iter, err error) []string {
		t.Helper()
		if err != nil {
			t.Fatalf("iterator failed: %v", err)
		}
		defer it.Close()
		var out []string
		for it.Next() {
			out = append(out, it.Value().String())
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		return out
	}
}

func join(s []string) string { return strings.Join(s, ",") }

func TestMultiStore(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := OpenMultiInteger[uint32](rkv, "multi", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMultiInteger failed: %v", err)
		}

		mustUpdate(t, rkv, func(w *Writer) error {
			return store.Put(w, 1, StrValue("hello!"))
		})
		r := mustRead(t, rkv)
		if v, ok, err := store.GetFirst(r, 1); err != nil || !ok || v.String() != "hello!" {
			t.Fatalf("GetFirst(1) = %v, %v, %v", v, ok, err)
		}
		r.Abort()

		mustUpdate(t, rkv, func(w *Writer) error {
			if err := store.Put(w, 1, StrValue("hello!")); err != nil {
				return err
			}
			return store.Put(w, 1, StrValue("hello1!"))
		})
		r = mustRead(t, rkv)
		if got := join(drain(t)(store.Get(r, 1))); got != "hello!,hello1!" {
			t.Fatalf("Get(1) = %s", got)
		}
		r.Abort()

		w, err := rkv.Write()
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := store.Delete(w, 1, StrValue("not-present")); KindOf(err) != KindNotFound {
			t.Fatalf("Delete of a missing pair: expected NotFound, got %v", err)
		}
		if err := store.DeleteAll(w, 99); err != nil {
			t.Fatalf("DeleteAll of a missing key failed: %v", err)
		}
		if got := join(drain(t)(store.Get(w, 1))); got != "hello!,hello1!" {
			t.Fatalf("Get(1) after failed deletes = %s", got)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		mustUpdate(t, rkv, func(w *Writer) error {
			if err := store.Put(w, 2, U64Value(2)); err != nil {
				return err
			}
			return store.Clear(w)
		})
		r = mustRead(t, rkv)
		for _, k := range []uint32{1, 2} {
			if _, ok, err := store.GetFirst(r, k); err != nil || ok {
				t.Fatalf("GetFirst(%d) after Clear = %v, %v", k, ok, err)
			}
		}
	})
}

func TestMultiStoreOrderAndLookup(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := rkv.OpenMulti("m", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}

		mustUpdate(t, rkv, func(w *Writer) error {
			for _, v := range []uint32{2, 256, 1} {
				if err := store.Put(w, []byte("k"), U32Value(v)); err != nil {
					return err
				}
			}
			return store.Put(w, []byte("j"), U32Value(1))
		})

		r := mustRead(t, rkv)
		// U32 values are little-endian, so 256 sorts first.
		if got := join(drain(t)(store.Get(r, []byte("k")))); got != "256,1,2" {
			t.Fatalf("Get(k) = %s", got)
		}
		if got := join(drain(t)(store.Get(r, []byte("missing")))); got != "" {
			t.Fatalf("Get(missing) = %s", got)
		}
		if got := join(drain(t)(store.IterStart(r))); got != "1,256,1,2" {
			t.Fatalf("IterStart = %s", got)
		}
		if got := join(drain(t)(store.IterPrev(r))); got != "2,1,256,1" {
			t.Fatalf("IterPrev = %s", got)
		}
		ok, err := store.GetKeyValue(r, []byte("k"), U32Value(256))
		if err != nil || !ok {
			t.Fatalf("GetKeyValue(k, 256) = %v, %v", ok, err)
		}
		ok, err = store.GetKeyValue(r, []byte("k"), U32Value(21))
		if err != nil || ok {
			t.Fatalf("GetKeyValue(k, 21) = %v, %v", ok, err)
		}
	})
}

func TestNoDupData(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := rkv.OpenMulti("m", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}
		w, err := rkv.Write()
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		defer w.Abort()

		key := []byte("k")
		if err := store.PutWithFlags(w, key, StrValue("a"), WriteNoDupData); err != nil {
			t.Fatalf("first put failed: %v", err)
		}
		if err := store.PutWithFlags(w, key, StrValue("a"), WriteNoDupData); !IsKeyExist(err) {
			t.Fatalf("expected KeyExist, got %v", err)
		}
		if err := store.PutWithFlags(w, key, StrValue("b"), WriteNoDupData); err != nil {
			t.Fatalf("distinct put failed: %v", err)
		}
	})
}

func TestKeepCopies(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := rkv.OpenMulti("m", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}
		key := []byte("k")

		mustUpdate(t, rkv, func(w *Writer) error {
			for i := 0; i < 3; i++ {
				if err := store.PutWithFlags(w, key, StrValue("a"), WriteKeepCopies); err != nil {
					return err
				}
			}
			return store.Put(w, key, StrValue("b"))
		})

		r := mustRead(t, rkv)
		if got := join(drain(t)(store.Get(r, key))); got != "a,a,a,b" {
			t.Fatalf("Get(k) = %s", got)
		}
		if v, _, err := store.GetFirst(r, key); err != nil || v.String() != "a" {
			t.Fatalf("GetFirst(k) = %v, %v", v, err)
		}
		r.Abort()

		mustUpdate(t, rkv, func(w *Writer) error {
			return store.Delete(w, key, StrValue("a"))
		})
		r = mustRead(t, rkv)
		if got := join(drain(t)(store.Get(r, key))); got != "a,a,b" {
			t.Fatalf("Get(k) after one delete = %s", got)
		}
		r.Abort()

		mustUpdate(t, rkv, func(w *Writer) error {
			if err := store.Delete(w, key, StrValue("a")); err != nil {
				return err
			}
			return store.Delete(w, key, StrValue("a"))
		})
		r = mustRead(t, rkv)
		if got := join(drain(t)(store.Get(r, key))); got != "b" {
			t.Fatalf("Get(k) after deleting every copy = %s", got)
		}
		if ok, err := store.GetKeyValue(r, key, StrValue("a")); err != nil || ok {
			t.Fatalf("GetKeyValue(k, a) = %v, %v", ok, err)
		}
	})
}

func TestIterPrevDupFrom(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := OpenMultiInteger[uint32](rkv, "dups", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMultiInteger failed: %v", err)
		}

		w, err := rkv.Write()
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		defer w.Abort()
		for _, k := range []uint32{1, 2, 4} {
			for _, v := range []string{"x", "y"} {
				if err := store.Put(w, k, StrValue(v+string(rune('0'+k)))); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
		}

		it, err := store.IterPrevDupFrom(w, 4)
		if err != nil {
			t.Fatalf("IterPrevDupFrom failed: %v", err)
		}
		defer it.Close()
		var got []string
		for it.Next() {
			got = append(got, drain(t)(it.Dups(), nil)...)
			got = append(got, "|")
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		if want := "y4,x4,|,y2,x2,|,y1,x1,|"; join(got) != want {
			t.Fatalf("IterPrevDupFrom(4) = %s, want %s", join(got), want)
		}

		it3, err := store.IterPrevDupFrom(w, 3)
		if err != nil {
			t.Fatalf("IterPrevDupFrom failed: %v", err)
		}
		defer it3.Close()
		if !it3.Next() || it3.Key() != 2 {
			t.Fatalf("IterPrevDupFrom(3) starts at %d", it3.Key())
		}

		r := mustRead(t, rkv)
		if _, ok := interface{}(r).(RwReadable); ok {
			t.Fatal("*Reader must not open the reverse duplicate cursor")
		}
	})
}

func TestSingleStore(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := rkv.OpenSingle("s", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}

		mustUpdate(t, rkv, func(w *Writer) error {
			for _, k := range []string{"a", "b", "c"} {
				if err := store.Put(w, []byte(k), StrValue("old-"+k)); err != nil {
					return err
				}
			}
			return store.Put(w, []byte("b"), StrValue("new-b"))
		})

		r := mustRead(t, rkv)
		if v, ok, err := store.Get(r, []byte("b")); err != nil || !ok || v.String() != "new-b" {
			t.Fatalf("Get(b) = %v, %v, %v", v, ok, err)
		}
		if _, ok, err := store.Get(r, []byte("z")); err != nil || ok {
			t.Fatalf("Get(z) = %v, %v", ok, err)
		}
		if got := join(drain(t)(store.IterFrom(r, []byte("bb")))); got != "old-c" {
			t.Fatalf("IterFrom(bb) = %s", got)
		}
		if got := join(drain(t)(store.IterPrev(r))); got != "old-c,new-b,old-a" {
			t.Fatalf("IterPrev = %s", got)
		}
		r.Abort()

		w, err := rkv.Write()
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		defer w.Abort()
		if err := store.Delete(w, []byte("z")); KindOf(err) != KindNotFound {
			t.Fatalf("Delete(z): expected NotFound, got %v", err)
		}
		if err := store.PutWithFlags(w, []byte("a"), StrValue("x"), WriteNoOverwrite); !IsKeyExist(err) {
			t.Fatalf("expected KeyExist, got %v", err)
		}
		if err := store.Delete(w, []byte("a")); err != nil {
			t.Fatalf("Delete(a) failed: %v", err)
		}
		if _, ok, _ := store.Get(w, []byte("a")); ok {
			t.Fatal("writer still sees a")
		}
	})
}

func TestIntegerStoreOrder(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := OpenInteger[uint64](rkv, "ints", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenInteger failed: %v", err)
		}
		keys := []uint64{1 << 40, 3, 256, 0, 255}
		mustUpdate(t, rkv, func(w *Writer) error {
			for _, k := range keys {
				if err := store.Put(w, k, U64Value(k)); err != nil {
					return err
				}
			}
			return nil
		})

		r := mustRead(t, rkv)
		it, err := store.IterStart(r)
		if err != nil {
			t.Fatalf("IterStart failed: %v", err)
		}
		defer it.Close()
		var got []uint64
		for it.Next() {
			if v, _ := it.Value().U64(); v != it.Key() {
				t.Fatalf("key %d holds %v", it.Key(), it.Value())
			}
			got = append(got, it.Key())
		}
		want := []uint64{0, 3, 255, 256, 1 << 40}
		if len(got) != len(want) {
			t.Fatalf("IterStart = %v", got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("IterStart = %v, want %v", got, want)
			}
		}
	})
}

func TestMultiIntegerIterFrom(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := OpenMultiInteger[uint32](rkv, "ints", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMultiInteger failed: %v", err)
		}
		mustUpdate(t, rkv, func(w *Writer) error {
			for _, k := range []uint32{4, 1, 2} {
				for _, v := range []string{"b", "a"} {
					if err := store.Put(w, k, StrValue(v)); err != nil {
						return err
					}
				}
			}
			return nil
		})

		r := mustRead(t, rkv)
		for _, c := range []struct {
			from uint32
			want string
		}{
			{2, "2a,2b,4a,4b"},
			{3, "4a,4b"},
			{0, "1a,1b,2a,2b,4a,4b"},
			{5, ""},
		} {
			it, err := store.IterFrom(r, c.from)
			if err != nil {
				t.Fatalf("IterFrom(%d) failed: %v", c.from, err)
			}
			var got []string
			for it.Next() {
				v, _ := it.Value().Str()
				got = append(got, fmt.Sprintf("%d%s", it.Key(), v))
			}
			if err := it.Err(); err != nil {
				t.Fatalf("IterFrom(%d) failed: %v", c.from, err)
			}
			it.Close()
			if join(got) != c.want {
				t.Errorf("IterFrom(%d) = %s, want %s", c.from, join(got), c.want)
			}
		}
	})
}

func TestPersistence(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := openRkv(t, open, path)
		store, err := rkv.OpenMulti("m", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}
		mustUpdate(t, rkv, func(w *Writer) error {
			for _, v := range []string{"c", "a", "b"} {
				if err := store.Put(w, []byte("k"), StrValue(v)); err != nil {
					return err
				}
			}
			return nil
		})
		if err := rkv.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		rkv = freshRkv(t, open, path)
		store, err = rkv.OpenMulti("m", StoreOptions{})
		if err != nil {
			t.Fatalf("OpenMulti after reopen failed: %v", err)
		}
		r := mustRead(t, rkv)
		if got := join(drain(t)(store.Get(r, []byte("k")))); got != "a,b,c" {
			t.Fatalf("Get(k) after reopen = %s", got)
		}
	})
}

func TestSnapshotIsolation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		store, err := rkv.OpenSingle("s", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}
		r := mustRead(t, rkv)
		mustUpdate(t, rkv, func(w *Writer) error {
			return store.Put(w, []byte("k"), BoolValue(true))
		})
		if _, ok, err := store.Get(r, []byte("k")); err != nil || ok {
			t.Fatalf("old reader sees the commit: %v, %v", ok, err)
		}
	})
}

func TestTryWrite(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		w, err := rkv.TryWrite()
		if err != nil {
			t.Fatalf("TryWrite failed: %v", err)
		}
		if _, err := rkv.TryWrite(); KindOf(err) != KindConcurrency {
			t.Fatalf("second TryWrite: expected a concurrency error, got %v", err)
		}
		w.Abort()

		w, err = rkv.TryWrite()
		if err != nil {
			t.Fatalf("TryWrite after Abort failed: %v", err)
		}
		w.Abort()
	})
}

func TestFinishedTransactions(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		single, err := rkv.OpenSingle("s", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}
		multi, err := rkv.OpenMulti("m", StoreOptions{Create: true})
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}

		w, err := rkv.Write()
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		w.Abort()

		key := []byte("k")
		_, _, getErr := single.Get(w, key)
		_, iterErr := multi.IterPrevDupFrom(w, key)
		for name, err := range map[string]error{
			"Get":             getErr,
			"Put":             single.Put(w, key, BoolValue(true)),
			"Delete":          multi.Delete(w, key, BoolValue(true)),
			"Clear":           single.Clear(w),
			"Commit":          w.Commit(),
			"IterPrevDupFrom": iterErr,
		} {
			if KindOf(err) != KindState {
				t.Errorf("%s after Commit: expected a state error, got %v", name, err)
			}
		}

		r := mustRead(t, rkv)
		r.Abort()
		if _, err := single.IterStart(r); KindOf(err) != KindState {
			t.Errorf("IterStart after Abort: expected a state error, got %v", err)
		}
	})
}

func TestShapeMismatch(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := openRkv(t, open, path)
		if _, err := rkv.OpenSingle("s", StoreOptions{Create: true}); err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}
		if _, err := rkv.OpenMulti("s", StoreOptions{Create: true}); backend.Code(err) != backend.ErrIncompatible {
			t.Fatalf("OpenMulti over a single store: expected ErrIncompatible, got %v", err)
		}
		rkv.Close()

		rkv = freshRkv(t, open, path)
		if _, err := rkv.OpenMulti("s", StoreOptions{}); backend.Code(err) != backend.ErrIncompatible {
			t.Fatalf("OpenMulti after reopen: expected ErrIncompatible, got %v", err)
		}
		if _, err := rkv.OpenSingle("missing", StoreOptions{}); KindOf(err) != KindNotFound {
			t.Fatalf("OpenSingle(missing): expected NotFound, got %v", err)
		}
	})
}

func TestEnvironmentInfo(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open backend.OpenFunc, path string) {
		rkv := freshRkv(t, open, path)
		for _, name := range []string{"a", "b"} {
			if _, err := rkv.OpenSingle(name, StoreOptions{Create: true}); err != nil {
				t.Fatalf("OpenSingle(%s) failed: %v", name, err)
			}
		}
		names, err := rkv.DatabaseNames()
		if err != nil {
			t.Fatalf("DatabaseNames failed: %v", err)
		}
		if join(names) != "a,b" {
			t.Errorf("DatabaseNames = %v", names)
		}
		ratio, err := rkv.LoadRatio()
		if err != nil {
			t.Fatalf("LoadRatio failed: %v", err)
		}
		if ratio < 0 || ratio > 1 {
			t.Errorf("LoadRatio = %f", ratio)
		}
		if rkv.Version() == "" || len(rkv.Files()) == 0 {
			t.Errorf("Version = %q, Files = %v", rkv.Version(), rkv.Files())
		}
	})
}

func TestWriteMetrics(t *testing.T) {
	rkv := freshRkv(t, safe.Open, filepath.Join(backendtest.TempDir(t), "env"))
	mustUpdate(t, rkv, func(w *Writer) error { return nil })

	var buf bytes.Buffer
	WriteMetrics(&buf)
	for _, want := range []string{
		`gkv_txn_committed_total{backend="safe",mode="rw"}`,
		`gkv_commit_duration_seconds_bucket{backend="safe"`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("metrics output lacks %s", want)
		}
	}
}
