// Package pebble adapts github.com/cockroachdb/pebble, an LSM engine that
// reads through its own block cache instead of mapping files, to the backend
// contract.
//
// Read transactions are pebble snapshots. The write transaction is an
// indexed batch, so it reads its own writes, and commit applies the batch
// atomically. All databases share the keyspace under 4-byte id prefixes.
package pebble

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/ordered"
)

const (
	version  = "pebble/v0.0.0-20221207173255"
	pageSize = 4096
)

var log = log15.New("pkg", "gkv/pebble")

// logger routes pebble's own messages into log15.
type logger struct{}

func (logger) Infof(format string, args ...interface{}) {
	log.Debug(fmt.Sprintf(format, args...))
}

func (logger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Crit(msg)
	panic(msg)
}

// Open opens or creates a pebble environment in the directory path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		e := backend.NewError(backend.ErrIncompatible)
		e.Message = "pebble needs a directory"
		return nil, e
	}
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}
	if err := backend.RejectEncryption("pebble", cfg); err != nil {
		return nil, err
	}

	opts := (&pebble.Options{
		ReadOnly: cfg.ReadOnly(),
		Logger:   logger{},
	}).EnsureDefaults()

	db, err := pebble.Open(path, opts)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, backend.WrapError(backend.ErrDirNotFound, err)
		}
		return nil, backend.WrapError(backend.ErrProblem, errors.Wrap(err, "pebble open"))
	}

	eng := &engine{db: db, path: path, writeOpts: pebble.Sync}
	if cfg.NoSync() {
		eng.writeOpts = pebble.NoSync
	}
	env, err := ordered.New(eng, cfg, pageSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Opened environment", "path", path, "readonly", cfg.ReadOnly())
	return env, nil
}

type engine struct {
	db        *pebble.DB
	path      string
	writeOpts *pebble.WriteOptions
}

func (e *engine) Name() string { return "pebble" }

func (e *engine) BeginRead() (ordered.View, error) {
	snap := e.db.NewSnapshot()
	return &ordered.PrefixView{
		KV:      &readKV{r: snap},
		OnClose: func() { snap.Close() },
	}, nil
}

func (e *engine) BeginWrite() (ordered.View, error) {
	b := e.db.NewIndexedBatch()
	return &ordered.PrefixView{
		KV:       &writeKV{readKV: readKV{r: b}, b: b},
		OnCommit: func() error { return b.Commit(e.writeOpts) },
		OnClose:  func() { b.Close() },
	}, nil
}

func (e *engine) Sync(force bool) error {
	if !force && e.writeOpts == pebble.NoSync {
		return nil
	}
	// An empty log record with Sync flushes the WAL.
	return e.db.LogData(nil, pebble.Sync)
}

func (e *engine) Size() (uint64, error) {
	return e.db.Metrics().DiskSpaceUsage(), nil
}

func (e *engine) Files() []string {
	entries, err := os.ReadDir(e.path)
	if err != nil {
		return []string{e.path}
	}
	files := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			files = append(files, filepath.Join(e.path, ent.Name()))
		}
	}
	return files
}

func (e *engine) Version() string { return version }
func (e *engine) Close() error    { return e.db.Close() }

// reader is what snapshots and indexed batches have in common.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) *pebble.Iterator
}

type readKV struct {
	r reader
}

func (kv *readKV) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := kv.r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte{}, v...)
	closer.Close()
	return out, true, nil
}

func (kv *readKV) NewSource() (ordered.Source, error) {
	return &source{it: kv.r.NewIter(nil)}, nil
}

type writeKV struct {
	readKV
	b *pebble.Batch
}

func (kv *writeKV) Set(key, value []byte) error { return kv.b.Set(key, value, nil) }
func (kv *writeKV) Delete(key []byte) error     { return kv.b.Delete(key, nil) }

type source struct {
	it *pebble.Iterator
}

func (s *source) First() bool          { return s.it.First() }
func (s *source) Last() bool           { return s.it.Last() }
func (s *source) Seek(key []byte) bool { return s.it.SeekGE(key) }
func (s *source) Next() bool           { return s.it.Next() }
func (s *source) Prev() bool           { return s.it.Prev() }
func (s *source) Key() []byte          { return s.it.Key() }
func (s *source) Value() []byte        { return s.it.Value() }
func (s *source) Err() error           { return s.it.Error() }
func (s *source) Close() error         { return s.it.Close() }
