package rocks

import (
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.RunBackendTests(t, "rocksdb", Open)
}

func TestRejectsEncryption(t *testing.T) {
	cfg := backend.DefaultConfig()
	cfg.EncryptionKey = make([]byte, 32)
	if _, err := Open(backendtest.TempDir(t), cfg); backend.Code(err) != backend.ErrIncompatible {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
}

func TestEmptyValue(t *testing.T) {
	cfg := backend.DefaultConfig()
	env, err := Open(backendtest.TempDir(t), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	db, err := env.CreateDatabase("t", backend.DBDefaults)
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	if err := txn.Put(db, []byte("k"), nil, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	ro, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	defer ro.Abort()
	v, err := ro.Get(db, []byte("k"))
	if err != nil {
		t.Fatalf("Get of empty value failed: %v", err)
	}
	if len(v) != 0 {
		t.Fatalf("Get = %q, want empty", v)
	}
}
