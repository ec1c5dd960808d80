// Package safe is a storage engine that never maps files into memory.
//
// The whole keyspace lives in a copy-on-write B-tree. Read transactions work
// on an O(1) clone of the committed tree, the write transaction mutates its
// own clone, and commit persists the new tree to a single checksummed file
// before publishing it. This makes it suitable for sandboxes where mmap is
// unavailable and for tests; it is not meant for large data sets because
// every commit rewrites the file.
//
// When Config.EncryptionKey is set the file body is sealed with
// XChaCha20-Poly1305.
package safe

import (
	"bytes"
	"crypto/cipher"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/ordered"
)

const (
	// DataFileName is the data file name in an environment directory
	DataFileName = "data.safe.bin"

	// LockFileName is the lock file name in an environment directory
	LockFileName = "lock.safe"

	// LockSuffix is appended to the data file path when EnvNoSubdir is used
	LockSuffix = "-lck"

	pageSize = 4096
	version  = "safe/1"
)

var log = log15.New("pkg", "gkv/safe")

// Open opens or creates a safe environment at path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}
	if n := len(cfg.EncryptionKey); n != 0 && n != 32 {
		e := backend.NewError(backend.ErrIncompatible)
		e.Message = "encryption key must be 32 bytes"
		return nil, e
	}

	eng := &engine{
		dataPath: filepath.Join(path, DataFileName),
		lockPath: filepath.Join(path, LockFileName),
		noSync:   cfg.NoSync(),
		readOnly: cfg.ReadOnly(),
	}
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		eng.dataPath = path
		eng.lockPath = path + LockSuffix
	}
	aead, err := newAEAD(cfg.EncryptionKey)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIncompatible, err)
	}
	eng.aead = aead

	if err := eng.lock(); err != nil {
		return nil, err
	}
	if err := eng.load(cfg.DiscardIfCorrupted); err != nil {
		eng.unlock()
		return nil, err
	}

	env, err := ordered.New(eng, cfg, pageSize)
	if err != nil {
		eng.unlock()
		return nil, err
	}
	return env, nil
}

type engine struct {
	dataPath string
	lockPath string
	noSync   bool
	readOnly bool
	aead     cipher.AEAD

	lockF *os.File

	mu      sync.Mutex
	tree    *btree.BTreeG[item] // committed state, never mutated after publish
	size    uint64
	pending *writeKV
}

var (
	_ ordered.Engine   = (*engine)(nil)
	_ ordered.MapSizer = (*engine)(nil)
)

func (e *engine) lock() error {
	flags := os.O_CREATE | os.O_RDWR
	if e.readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(e.lockPath, flags, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return backend.WrapError(backend.ErrDirNotFound, err)
		}
		return backend.WrapError(backend.ErrProblem, err)
	}
	if err := lockFile(f, e.readOnly); err != nil {
		f.Close()
		return backend.WrapError(backend.ErrBusy, errors.Wrap(err, "environment is locked by another process"))
	}
	e.lockF = f
	return nil
}

func (e *engine) unlock() {
	if e.lockF == nil {
		return
	}
	unlockFile(e.lockF)
	e.lockF.Close()
	e.lockF = nil
}

func (e *engine) load(discard bool) error {
	data, err := os.ReadFile(e.dataPath)
	if os.IsNotExist(err) {
		e.tree = newTree()
		return nil
	}
	if err != nil {
		return backend.WrapError(backend.ErrProblem, err)
	}
	tree, size, err := decodeFile(data, e.aead)
	if err != nil {
		if !discard || e.readOnly {
			return backend.WrapError(backend.ErrCorrupted, errors.Wrap(err, e.dataPath))
		}
		log.Warn("Discarding corrupted data file", "path", e.dataPath, "err", err)
		tree, size = newTree(), 0
	}
	e.tree, e.size = tree, size
	return nil
}

func (e *engine) Name() string { return "safe" }

func (e *engine) BeginRead() (ordered.View, error) {
	e.mu.Lock()
	// Clone mutates the copy-on-write context of the source tree.
	snap := e.tree.Clone()
	e.mu.Unlock()
	return &ordered.PrefixView{KV: &readKV{tree: snap}}, nil
}

func (e *engine) BeginWrite() (ordered.View, error) {
	e.mu.Lock()
	w := &writeKV{readKV: readKV{tree: e.tree.Clone()}, size: e.size}
	e.pending = w
	e.mu.Unlock()

	return &ordered.PrefixView{
		KV: w,
		OnCommit: func() error {
			return e.commit(w)
		},
		OnClose: func() {
			e.mu.Lock()
			if e.pending == w {
				e.pending = nil
			}
			e.mu.Unlock()
		},
	}, nil
}

func (e *engine) commit(w *writeKV) error {
	data, err := encodeFile(w.tree, w.size, e.aead)
	if err != nil {
		return err
	}
	if err := writeFile(e.dataPath, data, !e.noSync); err != nil {
		return errors.Wrap(err, "write data file")
	}
	e.mu.Lock()
	e.tree, e.size = w.tree, w.size
	e.mu.Unlock()
	return nil
}

func (e *engine) Sync(force bool) error {
	if e.readOnly {
		return nil
	}
	if !force && e.noSync {
		return nil
	}
	f, err := os.Open(e.dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Size includes the pending write transaction, so puts see their own growth.
func (e *engine) Size() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		return e.pending.size, nil
	}
	return e.size, nil
}

func (e *engine) SetMapSize(size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size < e.size {
		err := backend.NewError(backend.ErrIncompatible)
		err.Message = "map size is below the current data size"
		return err
	}
	return nil
}

func (e *engine) Files() []string {
	return []string{e.dataPath, e.lockPath}
}

func (e *engine) Version() string { return version }

func (e *engine) Close() error {
	e.unlock()
	return nil
}

// readKV is a raw view over one tree.
type readKV struct {
	tree *btree.BTreeG[item]
}

func (r *readKV) Get(key []byte) ([]byte, bool, error) {
	it, ok := r.tree.Get(item{key: key})
	return it.value, ok, nil
}

func (r *readKV) NewSource() (ordered.Source, error) {
	return &treeSource{tree: r.tree}, nil
}

// writeKV tracks the accounted size of the pending tree.
type writeKV struct {
	readKV
	size uint64
}

func (w *writeKV) Set(key, value []byte) error {
	k := append([]byte{}, key...)
	v := append([]byte{}, value...)
	old, replaced := w.tree.ReplaceOrInsert(item{key: k, value: v})
	if replaced {
		w.size -= uint64(entryOverhead + len(old.key) + len(old.value))
	}
	w.size += uint64(entryOverhead + len(k) + len(v))
	return nil
}

func (w *writeKV) Delete(key []byte) error {
	if old, ok := w.tree.Delete(item{key: key}); ok {
		w.size -= uint64(entryOverhead + len(old.key) + len(old.value))
	}
	return nil
}

// treeSource positions over a B-tree by re-seeking from the current key.
type treeSource struct {
	tree  *btree.BTreeG[item]
	cur   item
	valid bool
}

func (s *treeSource) set(it item, ok bool) bool {
	s.cur, s.valid = it, ok
	return ok
}

func (s *treeSource) First() bool {
	return s.set(s.tree.Min())
}

func (s *treeSource) Last() bool {
	return s.set(s.tree.Max())
}

func (s *treeSource) Seek(key []byte) bool {
	var found item
	ok := false
	s.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		found, ok = it, true
		return false
	})
	return s.set(found, ok)
}

func (s *treeSource) Next() bool {
	if !s.valid {
		return false
	}
	var found item
	ok := false
	s.tree.AscendGreaterOrEqual(s.cur, func(it item) bool {
		if bytes.Equal(it.key, s.cur.key) {
			return true
		}
		found, ok = it, true
		return false
	})
	return s.set(found, ok)
}

func (s *treeSource) Prev() bool {
	if !s.valid {
		return false
	}
	var found item
	ok := false
	s.tree.DescendLessOrEqual(s.cur, func(it item) bool {
		if bytes.Equal(it.key, s.cur.key) {
			return true
		}
		found, ok = it, true
		return false
	})
	return s.set(found, ok)
}

func (s *treeSource) Key() []byte   { return s.cur.key }
func (s *treeSource) Value() []byte { return s.cur.value }
func (s *treeSource) Err() error    { return nil }
func (s *treeSource) Close() error  { return nil }
