package mdbx

import (
	"path/filepath"
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.RunBackendTests(t, "mdbx", Open)
}

func testConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	cfg.MapSize = 64 << 20
	return cfg
}

func TestRejectsEncryption(t *testing.T) {
	cfg := testConfig()
	cfg.EncryptionKey = make([]byte, 32)
	if _, err := Open(backendtest.TempDir(t), cfg); backend.Code(err) != backend.ErrIncompatible {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
}

func TestNoSubdir(t *testing.T) {
	path := filepath.Join(backendtest.TempDir(t), "env.mdbx")
	cfg := testConfig()
	cfg.Flags |= backend.EnvNoSubdir

	env, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	files := env.Files()
	if len(files) != 2 || files[0] != path || files[1] != path+LockSuffix {
		t.Fatalf("Files() = %v", files)
	}
}

func TestHandlesAreInterned(t *testing.T) {
	env, err := Open(backendtest.TempDir(t), testConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	created, err := env.CreateDatabase("t", backend.DBDupSort)
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	opened, err := env.OpenDatabase("t")
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	if created != opened {
		t.Fatal("CreateDatabase and OpenDatabase returned different handles")
	}
}

func TestCreateDatabase(t *testing.T) {
	path := backendtest.TempDir(t)
	env, err := Open(path, testConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, c := range []struct {
		name  string
		flags backend.DatabaseFlags
	}{
		{"plain", backend.DBDefaults},
		{"dups", backend.DBDupSort},
	} {
		db, err := env.CreateDatabase(c.name, c.flags)
		if err != nil {
			t.Fatalf("CreateDatabase %s failed: %v", c.name, err)
		}
		if db.Flags()&backend.DBDupSort != c.flags&backend.DBDupSort {
			t.Fatalf("%s: flags = %v, want %v", c.name, db.Flags(), c.flags)
		}
	}
	env.Close()

	// An existing database keeps the flags it was created with.
	env, err = Open(path, testConfig())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer env.Close()
	db, err := env.CreateDatabase("dups", backend.DBDefaults)
	if err != nil {
		t.Fatalf("CreateDatabase on existing failed: %v", err)
	}
	if db.Flags()&backend.DBDupSort == 0 {
		t.Fatal("existing dupsort database lost DBDupSort")
	}
	if _, err := env.OpenDatabase("plain"); err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
}

func TestMapFull(t *testing.T) {
	cfg := testConfig()
	cfg.MapSize = 1 << 20
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
	defer txn.Abort()

	value := make([]byte, 64<<10)
	for i := 0; i < 64; i++ {
		err = txn.Put(db, []byte{byte(i) + 1}, value, 0)
		if err != nil {
			break
		}
	}
	if !backend.IsMapFull(err) {
		t.Fatalf("expected ErrMapFull, got %v", err)
	}
}
