// Package rocks adapts RocksDB, through github.com/tecbot/gorocksdb, to the
// backend contract.
//
// A writable environment is a TransactionDB: the write transaction is a
// RocksDB transaction that reads its own writes, and read transactions are
// transactions pinned to a snapshot. A read-only environment opens the
// database with OpenDbForReadOnly and reads from snapshots directly.
package rocks

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tecbot/gorocksdb"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/ordered"
)

const (
	version  = "rocksdb/gorocksdb-20191217"
	pageSize = 4096
)

// Open opens or creates a RocksDB environment in the directory path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		e := backend.NewError(backend.ErrIncompatible)
		e.Message = "rocksdb needs a directory"
		return nil, e
	}
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}
	if err := backend.RejectEncryption("rocksdb", cfg); err != nil {
		return nil, err
	}

	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(!cfg.ReadOnly())

	eng := &engine{path: path, opts: opts}
	var err error
	if cfg.ReadOnly() {
		eng.ro, err = gorocksdb.OpenDbForReadOnly(opts, path, false)
	} else {
		eng.db, err = gorocksdb.OpenTransactionDb(opts, gorocksdb.NewDefaultTransactionDBOptions(), path)
	}
	if err != nil {
		opts.Destroy()
		return nil, backend.WrapError(backend.ErrProblem, errors.Wrap(err, "rocksdb open"))
	}

	eng.wo = gorocksdb.NewDefaultWriteOptions()
	eng.wo.SetSync(!cfg.NoSync())
	eng.txnOpts = gorocksdb.NewDefaultTransactionOptions()

	env, err := ordered.New(eng, cfg, pageSize)
	if err != nil {
		eng.Close()
		return nil, err
	}
	return env, nil
}

type engine struct {
	path string
	opts *gorocksdb.Options

	// Exactly one of db and ro is set.
	db *gorocksdb.TransactionDB
	ro *gorocksdb.DB

	wo      *gorocksdb.WriteOptions
	txnOpts *gorocksdb.TransactionOptions
}

func (e *engine) Name() string { return "rocksdb" }

func (e *engine) BeginRead() (ordered.View, error) {
	ro := gorocksdb.NewDefaultReadOptions()
	if e.ro != nil {
		snap := e.ro.NewSnapshot()
		ro.SetSnapshot(snap)
		return &ordered.PrefixView{
			KV: &readKV{r: e.ro, opts: ro},
			OnClose: func() {
				e.ro.ReleaseSnapshot(snap)
				ro.Destroy()
			},
		}, nil
	}

	snap := e.db.NewSnapshot()
	ro.SetSnapshot(snap)
	tx := e.db.TransactionBegin(e.wo, e.txnOpts, nil)
	return &ordered.PrefixView{
		KV: &readKV{r: tx, opts: ro},
		OnClose: func() {
			tx.Rollback()
			tx.Destroy()
			e.db.ReleaseSnapshot(snap)
			ro.Destroy()
		},
	}, nil
}

func (e *engine) BeginWrite() (ordered.View, error) {
	ro := gorocksdb.NewDefaultReadOptions()
	tx := e.db.TransactionBegin(e.wo, e.txnOpts, nil)
	committed := false
	return &ordered.PrefixView{
		KV: &writeKV{readKV: readKV{r: tx, opts: ro}, tx: tx},
		OnCommit: func() error {
			if err := tx.Commit(); err != nil {
				return err
			}
			committed = true
			return nil
		},
		OnClose: func() {
			if !committed {
				tx.Rollback()
			}
			tx.Destroy()
			ro.Destroy()
		},
	}, nil
}

// Sync has nothing to flush: with sync writes every commit is already
// durable, and TransactionDB exposes no WAL sync.
func (e *engine) Sync(bool) error { return nil }

// Size sums the files in the database directory.
func (e *engine) Size() (uint64, error) {
	entries, err := os.ReadDir(e.path)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, ent := range entries {
		if fi, err := ent.Info(); err == nil && !fi.IsDir() {
			n += uint64(fi.Size())
		}
	}
	return n, nil
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

func (e *engine) Close() error {
	if e.db != nil {
		e.db.Close()
	}
	if e.ro != nil {
		e.ro.Close()
	}
	e.txnOpts.Destroy()
	e.wo.Destroy()
	e.opts.Destroy()
	return nil
}

// reader is what a DB and a Transaction have in common.
type reader interface {
	Get(opts *gorocksdb.ReadOptions, key []byte) (*gorocksdb.Slice, error)
	NewIterator(opts *gorocksdb.ReadOptions) *gorocksdb.Iterator
}

type readKV struct {
	r    reader
	opts *gorocksdb.ReadOptions
}

func (kv *readKV) Get(key []byte) ([]byte, bool, error) {
	s, err := kv.r.Get(kv.opts, key)
	if err != nil {
		return nil, false, err
	}
	defer s.Free()
	if !s.Exists() {
		return nil, false, nil
	}
	return append([]byte{}, s.Data()...), true, nil
}

func (kv *readKV) NewSource() (ordered.Source, error) {
	return &source{it: kv.r.NewIterator(kv.opts)}, nil
}

type writeKV struct {
	readKV
	tx *gorocksdb.Transaction
}

func (kv *writeKV) Set(key, value []byte) error { return kv.tx.Put(key, value) }
func (kv *writeKV) Delete(key []byte) error     { return kv.tx.Delete(key) }

// source copies the current entry out of C memory on every move.
type source struct {
	it   *gorocksdb.Iterator
	k, v []byte
}

func (s *source) load() bool {
	if !s.it.Valid() {
		s.k, s.v = nil, nil
		return false
	}
	k, v := s.it.Key(), s.it.Value()
	s.k = append(s.k[:0], k.Data()...)
	s.v = append(s.v[:0], v.Data()...)
	k.Free()
	v.Free()
	return true
}

func (s *source) First() bool {
	s.it.SeekToFirst()
	return s.load()
}

func (s *source) Last() bool {
	s.it.SeekToLast()
	return s.load()
}

func (s *source) Seek(key []byte) bool {
	s.it.Seek(key)
	return s.load()
}

func (s *source) Next() bool {
	s.it.Next()
	return s.load()
}

func (s *source) Prev() bool {
	s.it.Prev()
	return s.load()
}

func (s *source) Key() []byte   { return s.k }
func (s *source) Value() []byte { return s.v }
func (s *source) Err() error    { return s.it.Err() }

func (s *source) Close() error {
	s.it.Close()
	return nil
}
