package pebble

import (
	"path/filepath"
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.RunBackendTests(t, "pebble", Open)
}

func TestRejectsNoSubdir(t *testing.T) {
	cfg := backend.DefaultConfig()
	cfg.Flags |= backend.EnvNoSubdir
	_, err := Open(filepath.Join(backendtest.TempDir(t), "env"), cfg)
	if backend.Code(err) != backend.ErrIncompatible {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
}

func TestBatchReadsOwnWrites(t *testing.T) {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	env, err := Open(filepath.Join(backendtest.TempDir(t), "env"), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	db, err := env.CreateDatabase("t", backend.DBDupSort)
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	defer txn.Abort()

	for _, v := range []string{"c", "a", "b"} {
		if err := txn.Put(db, []byte("k"), []byte(v), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	v, err := txn.Get(db, []byte("k"))
	if err != nil || string(v) != "a" {
		t.Fatalf("Get = %q, %v; want first duplicate", v, err)
	}

	c, err := txn.OpenRoCursor(db)
	if err != nil {
		t.Fatalf("OpenRoCursor failed: %v", err)
	}
	it := c.IterDupOf([]byte("k"))
	defer it.Close()
	var got string
	for it.Next() {
		got += string(it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if got != "abc" {
		t.Fatalf("duplicates = %q, want abc", got)
	}
}
