// Package gkv provides typed, transactional key/value stores on top of
// pluggable storage engines.
//
// Every engine implements the contract of package backend. The adapters
// live in backend/mdbx (libmdbx), backend/bolt, backend/pebble,
// backend/leveldb, backend/rocks and backend/safe, a non-mapped engine for
// sandboxes and tests.
//
// Key features:
//   - Single-value stores and duplicate-sorted multi-value stores
//   - Integer-keyed stores with order-preserving big-endian keys
//   - Tagged values (bool, integers, f64, instant, UUID, string, JSON, blob)
//   - Snapshot readers and a single writer per environment
//   - Iterators that own their cursor
//
// Basic usage:
//
//	rkv, err := gkv.Open(mdbx.Open, "/path/to/db", backend.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rkv.Close()
//
//	store, err := rkv.OpenMulti("users", gkv.StoreOptions{Create: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = rkv.Update(func(w *gkv.Writer) error {
//	    return store.Put(w, []byte("alice"), gkv.StrValue("admin"))
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := rkv.Read()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Abort()
//	v, ok, err := store.GetFirst(r, []byte("alice"))
//
// Environments shared across a process should be obtained through package
// manager, which hands out one Rkv per canonical path.
package gkv
