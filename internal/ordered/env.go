package ordered

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/fastmap"
)

// Engine is what a storage engine supplies to become a backend.Environment.
type Engine interface {
	// Name labels errors, e.g. "pebble".
	Name() string

	// BeginRead opens a consistent read view.
	BeginRead() (View, error)

	// BeginWrite opens the write view. Calls are serialized by the caller.
	BeginWrite() (View, error)

	Sync(force bool) error

	// Size returns the bytes currently used on disk or in memory.
	Size() (uint64, error)

	Files() []string
	Version() string
	Close() error
}

// MapSizer is implemented by engines that enforce the map size themselves.
type MapSizer interface {
	SetMapSize(size uint64) error
}

// Environment implements backend.Environment for an Engine.
type Environment struct {
	eng      Engine
	cfg      backend.Config
	pageSize uint32

	// Write transaction serialization
	txnMu    sync.Mutex
	txnCond  *sync.Cond
	writeTxn *Txn

	// Reader table: slot -> last committed txn id when the reader began
	readersMu  sync.Mutex
	readers    fastmap.Map[uint64]
	nextReader uint32

	// Tracks live transactions so Close can wait for them
	txnWg sync.WaitGroup

	handles handles
	mapSize atomic.Uint64
	lastTxn atomic.Uint64
	closed  atomic.Bool
}

var (
	_ backend.Environment = (*Environment)(nil)
	_ backend.TryBeginner = (*Environment)(nil)
)

// New wraps eng. pageSize is reported in Stat and used to estimate page
// counts.
func New(eng Engine, cfg backend.Config, pageSize uint32) (*Environment, error) {
	e := &Environment{eng: eng, cfg: cfg.WithDefaults(), pageSize: pageSize}
	e.txnCond = sync.NewCond(&e.txnMu)
	e.mapSize.Store(e.cfg.MapSize)

	v, err := eng.BeginRead()
	if err != nil {
		return nil, e.wrap(err)
	}
	defer v.Release()
	cat, err := v.Catalog()
	if err != nil {
		return nil, e.wrap(err)
	}
	n, err := readCounter(cat, catTxnKey)
	if err != nil {
		return nil, e.wrap(err)
	}
	e.lastTxn.Store(n)
	return e, nil
}

// wrap converts engine errors into coded backend errors.
func (e *Environment) wrap(err error) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}
	return backend.WrapError(backend.ErrProblem, errors.Wrap(err, e.eng.Name()))
}

func (e *Environment) checkOpen() error {
	if e.closed.Load() {
		err := backend.NewError(backend.ErrBadTxn)
		err.Message = "environment is closed"
		return err
	}
	return nil
}

// estimate fills a Stat from an entry count and raw byte size.
func (e *Environment) estimate(entries, size uint64) backend.Stat {
	st := backend.Stat{PageSize: e.pageSize, Entries: entries}
	if entries > 0 {
		st.Depth = 1
		st.LeafPages = (size + uint64(e.pageSize) - 1) / uint64(e.pageSize)
	}
	return st
}

// reserve fails with ErrMapFull when n more bytes would not fit. Only
// engines that implement MapSizer enforce the ceiling.
func (e *Environment) reserve(n int) error {
	if _, ok := e.eng.(MapSizer); !ok {
		return nil
	}
	used, err := e.eng.Size()
	if err != nil {
		return e.wrap(err)
	}
	if used+uint64(n) > e.mapSize.Load() {
		return backend.NewError(backend.ErrMapFull)
	}
	return nil
}

func (e *Environment) BeginRo() (backend.RoTransaction, error) {
	return e.beginRo()
}

func (e *Environment) beginRo() (*Txn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	e.readersMu.Lock()
	if uint32(e.readers.Len()) >= e.cfg.MaxReaders {
		oldest := e.lastTxn.Load()
		e.readers.ForEach(func(_ uint32, id uint64) {
			if id < oldest {
				oldest = id
			}
		})
		e.readersMu.Unlock()
		err := backend.NewError(backend.ErrReadersFull)
		err.Message = fmt.Sprintf("%s (oldest reader at txn %d)", err.Message, oldest)
		return nil, err
	}
	slot := e.nextReader
	e.nextReader++
	e.readers.Set(slot, e.lastTxn.Load())
	e.readersMu.Unlock()

	v, err := e.eng.BeginRead()
	if err != nil {
		e.releaseReader(slot)
		return nil, e.wrap(err)
	}
	e.txnWg.Add(1)
	return &Txn{env: e, view: v, release: func() {
		e.releaseReader(slot)
		e.txnWg.Done()
	}}, nil
}

func (e *Environment) releaseReader(slot uint32) {
	e.readersMu.Lock()
	e.readers.Delete(slot)
	e.readersMu.Unlock()
}

func (e *Environment) BeginRw() (backend.RwTransaction, error) {
	return e.beginRw(false)
}

// TryBeginRw starts a write transaction or fails with ErrBusy.
func (e *Environment) TryBeginRw() (backend.RwTransaction, error) {
	return e.beginRw(true)
}

func (e *Environment) beginRw(try bool) (*Txn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.ReadOnly() {
		return nil, backend.NewError(backend.ErrPermissionDenied)
	}

	e.txnMu.Lock()
	for e.writeTxn != nil {
		if try {
			e.txnMu.Unlock()
			return nil, backend.NewError(backend.ErrBusy)
		}
		e.txnCond.Wait()
	}

	v, err := e.eng.BeginWrite()
	if err != nil {
		e.txnMu.Unlock()
		return nil, e.wrap(err)
	}
	txn := &Txn{env: e, view: v, writable: true}
	txn.release = func() {
		e.txnMu.Lock()
		e.writeTxn = nil
		e.txnCond.Signal()
		e.txnMu.Unlock()
		e.txnWg.Done()
	}
	e.writeTxn = txn
	e.txnWg.Add(1)
	e.txnMu.Unlock()
	return txn, nil
}

func (e *Environment) DatabaseNames() ([]string, error) {
	txn, err := e.beginRo()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	cat, err := txn.view.Catalog()
	if err != nil {
		return nil, e.wrap(err)
	}
	names, err := catalogNames(cat)
	return names, e.wrap(err)
}

func (e *Environment) OpenDatabase(name string) (backend.Database, error) {
	txn, err := e.beginRo()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	db, err := e.lookup(txn, name)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (e *Environment) lookup(txn *Txn, name string) (*DB, error) {
	cat, err := txn.view.Catalog()
	if err != nil {
		return nil, e.wrap(err)
	}
	id, flags, ok, err := catalogLookup(cat, name)
	if err != nil {
		return nil, e.wrap(err)
	}
	if !ok {
		nf := backend.NewError(backend.ErrDatabaseNotFound)
		nf.Message = fmt.Sprintf("%s: %q", nf.Message, name)
		return nil, nf
	}
	if db, ok := e.handles.get(id); ok {
		return db, nil
	}
	return e.handles.intern(newDB(e, name, id, flags)), nil
}

// CreateDatabase opens name, creating it in its own write transaction when
// missing. It must not be called while the caller holds a write transaction.
func (e *Environment) CreateDatabase(name string, flags backend.DatabaseFlags) (backend.Database, error) {
	db, err := e.OpenDatabase(name)
	if err == nil || !backend.IsDatabaseNotFound(err) {
		return db, err
	}

	txn, err := e.beginRw(false)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	if db, err := e.lookup(txn, name); err == nil {
		return db, nil
	}
	cat, err := txn.view.Catalog()
	if err != nil {
		return nil, e.wrap(err)
	}
	id, err := catalogCreate(cat.(MutableTable), name, flags, e.cfg.MaxDBs)
	if err != nil {
		return nil, e.wrap(err)
	}
	d := newDB(e, name, id, flags)
	if _, err := txn.view.Table(d); err != nil {
		return nil, e.wrap(err)
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return e.handles.intern(d), nil
}

func (e *Environment) Sync(force bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.cfg.ReadOnly() {
		return nil
	}
	return e.wrap(e.eng.Sync(force))
}

// Stat sums the statistics of every named database.
func (e *Environment) Stat() (backend.Stat, error) {
	txn, err := e.beginRo()
	if err != nil {
		return backend.Stat{}, err
	}
	defer txn.Abort()

	cat, err := txn.view.Catalog()
	if err != nil {
		return backend.Stat{}, e.wrap(err)
	}
	names, err := catalogNames(cat)
	if err != nil {
		return backend.Stat{}, e.wrap(err)
	}
	var entries, size uint64
	for _, name := range names {
		db, err := e.lookup(txn, name)
		if err != nil {
			return backend.Stat{}, err
		}
		tbl, err := txn.view.Table(db)
		if err != nil {
			return backend.Stat{}, e.wrap(err)
		}
		n, s, err := count(tbl)
		if err != nil {
			return backend.Stat{}, e.wrap(err)
		}
		entries += n
		size += s
	}
	return e.estimate(entries, size), nil
}

func (e *Environment) Info() (backend.Info, error) {
	if err := e.checkOpen(); err != nil {
		return backend.Info{}, err
	}
	used, err := e.eng.Size()
	if err != nil {
		return backend.Info{}, e.wrap(err)
	}
	e.readersMu.Lock()
	readers := e.readers.Len()
	e.readersMu.Unlock()
	return backend.Info{
		MapSize:    e.mapSize.Load(),
		LastPgno:   used / uint64(e.pageSize),
		LastTxnID:  e.lastTxn.Load(),
		MaxReaders: e.cfg.MaxReaders,
		NumReaders: uint32(readers),
	}, nil
}

// SetMapSize changes the size ceiling. No transaction may be active.
func (e *Environment) SetMapSize(size uint64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if ms, ok := e.eng.(MapSizer); ok {
		if err := ms.SetMapSize(size); err != nil {
			return e.wrap(err)
		}
	}
	e.mapSize.Store(size)
	return nil
}

func (e *Environment) Files() []string { return e.eng.Files() }
func (e *Environment) Version() string { return e.eng.Version() }

// Close waits for live transactions and closes the engine.
func (e *Environment) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.txnWg.Wait()
	return e.wrap(e.eng.Close())
}
