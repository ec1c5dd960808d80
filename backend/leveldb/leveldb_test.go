package leveldb

import (
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.RunBackendTests(t, "leveldb", Open)
}

func TestMemory(t *testing.T) {
	env, err := Open(MemoryPath, backend.DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	if files := env.Files(); len(files) != 0 {
		t.Fatalf("memory environment reports files %v", files)
	}

	db, err := env.CreateDatabase("m", backend.DBDupSort)
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	for _, v := range []string{"2", "1", "3"} {
		if err := txn.Put(db, []byte("k"), []byte(v), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	ro, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	defer ro.Abort()
	c, err := ro.OpenRoCursor(db)
	if err != nil {
		t.Fatalf("OpenRoCursor failed: %v", err)
	}
	it := c.IterPrev()
	defer it.Close()
	var got string
	for it.Next() {
		got += string(it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if got != "321" {
		t.Fatalf("IterPrev values = %q, want 321", got)
	}
}

func TestRejectsEncryption(t *testing.T) {
	cfg := backend.DefaultConfig()
	cfg.EncryptionKey = make([]byte, 32)
	if _, err := Open(MemoryPath, cfg); backend.Code(err) != backend.ErrIncompatible {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
}
