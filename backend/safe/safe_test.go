package safe

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.RunBackendTests(t, "safe", Open)
}

func testConfig() backend.Config {
	cfg := backend.DefaultConfig()
	cfg.MakeDirIfNeeded = true
	return cfg
}

func writeOne(t *testing.T, env backend.Environment, key, value string) {
	t.Helper()
	db, err := env.CreateDatabase("t", backend.DBDefaults)
	if err != nil {
		t.Fatalf("CreateDatabase failed: %v", err)
	}
	txn, err := env.BeginRw()
	if err != nil {
		t.Fatalf("BeginRw failed: %v", err)
	}
	if err := txn.Put(db, []byte(key), []byte(value), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func readOne(t *testing.T, env backend.Environment, key string) (string, error) {
	t.Helper()
	db, err := env.OpenDatabase("t")
	if err != nil {
		return "", err
	}
	txn, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	defer txn.Abort()
	v, err := txn.Get(db, []byte(key))
	return string(v), err
}

func TestEncryption(t *testing.T) {
	dir := backendtest.TempDir(t)
	cfg := testConfig()
	cfg.EncryptionKey = bytes.Repeat([]byte{7}, 32)

	env, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	writeOne(t, env, "secret-key", "secret-value")
	env.Close()

	raw, err := os.ReadFile(filepath.Join(dir, DataFileName))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if bytes.Contains(raw, []byte("secret-value")) {
		t.Fatal("plaintext value found in encrypted data file")
	}

	env, err = Open(dir, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, err := readOne(t, env, "secret-key")
	if err != nil || v != "secret-value" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	env.Close()

	wrong := testConfig()
	wrong.EncryptionKey = bytes.Repeat([]byte{8}, 32)
	if _, err := Open(dir, wrong); !backend.IsCorrupted(err) {
		t.Fatalf("Open with wrong key: expected ErrCorrupted, got %v", err)
	}
	if _, err := Open(dir, testConfig()); err == nil {
		t.Fatal("Open without key succeeded on an encrypted file")
	}

	short := testConfig()
	short.EncryptionKey = []byte("short")
	if _, err := Open(dir, short); backend.Code(err) != backend.ErrIncompatible {
		t.Fatalf("Open with short key: expected ErrIncompatible, got %v", err)
	}
}

func TestCorruption(t *testing.T) {
	dir := backendtest.TempDir(t)
	env, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	writeOne(t, env, "k", "v")
	env.Close()

	path := filepath.Join(dir, DataFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	raw[len(raw)-6] ^= 0xff
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Open(dir, testConfig()); !backend.IsCorrupted(err) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}

	cfg := testConfig()
	cfg.DiscardIfCorrupted = true
	env, err = Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open with DiscardIfCorrupted failed: %v", err)
	}
	defer env.Close()
	if _, err := readOne(t, env, "k"); !backend.IsDatabaseNotFound(err) {
		t.Fatalf("expected empty environment, got %v", err)
	}
}

func TestExclusiveLock(t *testing.T) {
	dir := backendtest.TempDir(t)
	env, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	if _, err := Open(dir, testConfig()); !backend.IsBusy(err) {
		t.Fatalf("second Open: expected ErrBusy, got %v", err)
	}
}

func TestMapFull(t *testing.T) {
	cfg := testConfig()
	cfg.MapSize = 1024
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

	err = txn.Put(db, []byte("big"), make([]byte, 2048), 0)
	if !backend.IsMapFull(err) {
		t.Fatalf("expected ErrMapFull, got %v", err)
	}
	if err := txn.Put(db, []byte("small"), []byte("v"), 0); err != nil {
		t.Fatalf("small Put failed: %v", err)
	}
}

func TestMaxReaders(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReaders = 2
	env, err := Open(backendtest.TempDir(t), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	r1, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	r2, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo failed: %v", err)
	}
	if _, err := env.BeginRo(); backend.Code(err) != backend.ErrReadersFull {
		t.Fatalf("third BeginRo: expected ErrReadersFull, got %v", err)
	}

	info, err := env.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.NumReaders != 2 {
		t.Errorf("NumReaders = %d, want 2", info.NumReaders)
	}

	r1.Abort()
	r3, err := env.BeginRo()
	if err != nil {
		t.Fatalf("BeginRo after Abort failed: %v", err)
	}
	r2.Abort()
	r3.Abort()
}

func TestNoSubdir(t *testing.T) {
	path := filepath.Join(backendtest.TempDir(t), "env.bin")
	cfg := testConfig()
	cfg.Flags |= backend.EnvNoSubdir

	env, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	writeOne(t, env, "k", "v")
	files := env.Files()
	env.Close()

	if files[0] != path || files[1] != path+LockSuffix {
		t.Fatalf("Files() = %v", files)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("data file missing: %v", err)
	}
}
