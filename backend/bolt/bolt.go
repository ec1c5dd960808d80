// Package bolt adapts go.etcd.io/bbolt, a pure-Go memory-mapped B+tree, to
// the backend contract. Each database is a bucket named by its catalog id;
// duplicate-sorted databases use composite keys inside their bucket.
package bolt

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/ordered"
)

const (
	// DataFileName is the data file name in an environment directory
	DataFileName = "data.bolt"

	version = "bbolt/v1.4.3"

	// lockTimeout bounds how long Open waits for another process's flock
	lockTimeout = time.Second
)

var catalogBucket = []byte("gkv.catalog")

// Open opens or creates a bbolt environment at path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}
	if err := backend.RejectEncryption("bolt", cfg); err != nil {
		return nil, err
	}

	file := filepath.Join(path, DataFileName)
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		file = path
	}
	if cfg.ReadOnly() {
		if _, err := os.Stat(file); err != nil {
			return nil, backend.WrapError(backend.ErrDirNotFound, err)
		}
	}

	db, err := bolt.Open(file, 0644, &bolt.Options{
		Timeout:  lockTimeout,
		NoSync:   cfg.NoSync(),
		ReadOnly: cfg.ReadOnly(),
		// A remap waits for every open reader, so size the initial map to
		// the configured ceiling.
		InitialMmapSize: int(cfg.MapSize),
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, backend.WrapError(backend.ErrBusy, err)
		}
		return nil, backend.WrapError(backend.ErrProblem, errors.Wrap(err, "bolt open"))
	}

	eng := &engine{db: db, file: file}
	env, err := ordered.New(eng, cfg, uint32(db.Info().PageSize))
	if err != nil {
		db.Close()
		return nil, err
	}
	return env, nil
}

type engine struct {
	db   *bolt.DB
	file string
}

func (e *engine) Name() string { return "bolt" }

func (e *engine) BeginRead() (ordered.View, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &view{tx: tx}, nil
}

func (e *engine) BeginWrite() (ordered.View, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &view{tx: tx}, nil
}

func (e *engine) Sync(bool) error { return e.db.Sync() }

func (e *engine) Size() (uint64, error) {
	fi, err := os.Stat(e.file)
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

func (e *engine) Files() []string { return []string{e.file} }
func (e *engine) Version() string { return version }
func (e *engine) Close() error    { return e.db.Close() }

// view wraps one bolt transaction.
type view struct {
	tx *bolt.Tx
}

func (v *view) bucket(name []byte) (*bolt.Bucket, error) {
	if v.tx.Writable() {
		return v.tx.CreateBucketIfNotExists(name)
	}
	return v.tx.Bucket(name), nil
}

func (v *view) Catalog() (ordered.Table, error) {
	b, err := v.bucket(catalogBucket)
	if err != nil {
		return nil, err
	}
	return &table{b: b}, nil
}

func (v *view) Table(db *ordered.DB) (ordered.Table, error) {
	b, err := v.bucket(db.Prefix())
	if err != nil {
		return nil, err
	}
	return &table{b: b}, nil
}

func (v *view) Commit() error { return v.tx.Commit() }

func (v *view) Release() {
	// Rollback after Commit reports ErrTxClosed, which is expected.
	_ = v.tx.Rollback()
}

// table is one bucket. A nil bucket reads as empty.
type table struct {
	b *bolt.Bucket
}

func (t *table) Get(key []byte) ([]byte, bool, error) {
	if t.b == nil {
		return nil, false, nil
	}
	k, v := t.b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

func (t *table) NewSource() (ordered.Source, error) {
	if t.b == nil {
		return emptySource{}, nil
	}
	return &source{c: t.b.Cursor()}, nil
}

func (t *table) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return t.b.Put(key, value)
}

func (t *table) Delete(key []byte) error {
	return t.b.Delete(key)
}

type source struct {
	c    *bolt.Cursor
	k, v []byte
}

func (s *source) set(k, v []byte) bool {
	s.k, s.v = k, v
	return k != nil
}

func (s *source) First() bool          { return s.set(s.c.First()) }
func (s *source) Last() bool           { return s.set(s.c.Last()) }
func (s *source) Seek(key []byte) bool { return s.set(s.c.Seek(key)) }
func (s *source) Next() bool           { return s.set(s.c.Next()) }
func (s *source) Prev() bool           { return s.set(s.c.Prev()) }
func (s *source) Key() []byte          { return s.k }
func (s *source) Value() []byte        { return s.v }
func (s *source) Err() error           { return nil }
func (s *source) Close() error         { return nil }

type emptySource struct{}

func (emptySource) First() bool      { return false }
func (emptySource) Last() bool       { return false }
func (emptySource) Seek([]byte) bool { return false }
func (emptySource) Next() bool       { return false }
func (emptySource) Prev() bool       { return false }
func (emptySource) Key() []byte      { return nil }
func (emptySource) Value() []byte    { return nil }
func (emptySource) Err() error       { return nil }
func (emptySource) Close() error     { return nil }
