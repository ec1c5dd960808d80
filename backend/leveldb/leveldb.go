// Package leveldb adapts github.com/syndtr/goleveldb to the backend contract.
//
// Read transactions are leveldb snapshots and the write transaction is a
// leveldb Transaction, which blocks other writers until it is committed or
// discarded. Passing MemoryPath to Open keeps everything in memory.
package leveldb

import (
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	dberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/ordered"
)

// MemoryPath opens a volatile in-memory environment.
const MemoryPath = ":memory:"

const (
	version  = "goleveldb/v1.0.1"
	pageSize = 4096
)

var (
	log = log15.New("pkg", "gkv/leveldb")

	readOpt = opt.ReadOptions{}

	// sizeRange spans every id prefix.
	sizeRange = []util.Range{{Start: nil, Limit: []byte{0xff, 0xff, 0xff, 0xff, 0xff}}}
)

// Open opens or creates a leveldb environment in the directory path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if err := backend.RejectEncryption("leveldb", cfg); err != nil {
		return nil, err
	}
	if path == MemoryPath {
		return OpenMemory(cfg)
	}
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		e := backend.NewError(backend.ErrIncompatible)
		e.Message = "leveldb needs a directory"
		return nil, e
	}
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}

	o := &opt.Options{
		ReadOnly:               cfg.ReadOnly(),
		ErrorIfMissing:         cfg.ReadOnly(),
		NoSync:                 cfg.NoSync(),
		Filter:                 filter.NewBloomFilter(10),
		DisableSeeksCompaction: true,
	}
	db, err := leveldb.OpenFile(path, o)
	if _, corrupted := err.(*dberrors.ErrCorrupted); corrupted {
		if !cfg.DiscardIfCorrupted || cfg.ReadOnly() {
			return nil, backend.WrapError(backend.ErrCorrupted, err)
		}
		log.Warn("Recovering corrupted database", "path", path, "err", err)
		db, err = leveldb.RecoverFile(path, o)
	}
	if err != nil {
		return nil, backend.WrapError(backend.ErrProblem, errors.Wrap(err, "leveldb open"))
	}
	return wrap(db, []string{path}, cfg)
}

// OpenMemory opens an environment backed by memory storage. Its contents
// are lost on Close.
func OpenMemory(cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	cfg.Flags &^= backend.EnvReadOnly
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, backend.WrapError(backend.ErrProblem, errors.Wrap(err, "leveldb open"))
	}
	return wrap(db, nil, cfg)
}

func wrap(db *leveldb.DB, files []string, cfg backend.Config) (backend.Environment, error) {
	eng := &engine{db: db, files: files, writeOpt: &opt.WriteOptions{Sync: !cfg.NoSync()}}
	env, err := ordered.New(eng, cfg, pageSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return env, nil
}

type engine struct {
	db       *leveldb.DB
	files    []string
	writeOpt *opt.WriteOptions
}

func (e *engine) Name() string { return "leveldb" }

func (e *engine) BeginRead() (ordered.View, error) {
	snap, err := e.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &ordered.PrefixView{
		KV:      &snapshotKV{snap: snap},
		OnClose: snap.Release,
	}, nil
}

func (e *engine) BeginWrite() (ordered.View, error) {
	tr, err := e.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &ordered.PrefixView{
		KV:       &txnKV{tr: tr, wo: e.writeOpt},
		OnCommit: tr.Commit,
		// Discard after Commit is a no-op.
		OnClose: tr.Discard,
	}, nil
}

// Sync has nothing to flush: a committed transaction is already written to
// table files and the manifest.
func (e *engine) Sync(bool) error { return nil }

func (e *engine) Size() (uint64, error) {
	sizes, err := e.db.SizeOf(sizeRange)
	if err != nil {
		return 0, err
	}
	return uint64(sizes.Sum()), nil
}

func (e *engine) Files() []string { return e.files }
func (e *engine) Version() string { return version }
func (e *engine) Close() error    { return e.db.Close() }

func get(v []byte, err error) ([]byte, bool, error) {
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

type snapshotKV struct {
	snap *leveldb.Snapshot
}

func (kv *snapshotKV) Get(key []byte) ([]byte, bool, error) {
	return get(kv.snap.Get(key, &readOpt))
}

func (kv *snapshotKV) NewSource() (ordered.Source, error) {
	return &source{it: kv.snap.NewIterator(nil, &readOpt)}, nil
}

type txnKV struct {
	tr *leveldb.Transaction
	wo *opt.WriteOptions
}

func (kv *txnKV) Get(key []byte) ([]byte, bool, error) {
	return get(kv.tr.Get(key, &readOpt))
}

func (kv *txnKV) NewSource() (ordered.Source, error) {
	return &source{it: kv.tr.NewIterator(nil, &readOpt)}, nil
}

func (kv *txnKV) Set(key, value []byte) error { return kv.tr.Put(key, value, kv.wo) }
func (kv *txnKV) Delete(key []byte) error     { return kv.tr.Delete(key, kv.wo) }

type source struct {
	it iterator.Iterator
}

func (s *source) First() bool          { return s.it.First() }
func (s *source) Last() bool           { return s.it.Last() }
func (s *source) Seek(key []byte) bool { return s.it.Seek(key) }
func (s *source) Next() bool           { return s.it.Next() }
func (s *source) Prev() bool           { return s.it.Prev() }
func (s *source) Key() []byte          { return s.it.Key() }
func (s *source) Value() []byte        { return s.it.Value() }
func (s *source) Err() error           { return s.it.Error() }

func (s *source) Close() error {
	s.it.Release()
	return nil
}
