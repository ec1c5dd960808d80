// Package mdbx adapts libmdbx, through github.com/erigontech/mdbx-go, to the
// backend contract. Duplicate-sorted databases map onto native MDBX DUPSORT
// tables, so no key rewriting happens here.
//
// A write transaction pins its goroutine to the OS thread from BeginRw until
// Commit or Abort, and must be finished on the goroutine that began it. Read
// transactions have no thread affinity.
package mdbx

import (
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/fastmap"
)

const (
	// DataFileName is the data file name in an environment directory
	DataFileName = "mdbx.dat"

	// LockFileName is the lock file name in an environment directory
	LockFileName = "mdbx.lck"

	// LockSuffix is appended to the data file path when EnvNoSubdir is used
	LockSuffix = "-lck"

	version = "libmdbx/mdbx-go v0.40.0"
)

var log = log15.New("pkg", "gkv/mdbx")

// Env implements backend.Environment over an MDBX environment.
type Env struct {
	env  *mdbx.Env
	path string
	cfg  backend.Config

	// Writer serialization. mdbx blocks a second writer too, but TryBeginRw
	// needs to fail instead.
	writer sync.Mutex

	// Interned database handles by DBI
	handlesMu sync.Mutex
	handles   fastmap.Map[*DB]

	// Live transactions; Close waits for them
	txnWg  sync.WaitGroup
	closed atomic.Bool
}

var (
	_ backend.Environment = (*Env)(nil)
	_ backend.TryBeginner = (*Env)(nil)
)

// Open opens or creates an MDBX environment at path.
func Open(path string, cfg backend.Config) (backend.Environment, error) {
	cfg = cfg.WithDefaults()
	if err := backend.PrepareDir(path, cfg); err != nil {
		return nil, err
	}
	if err := backend.RejectEncryption("mdbx", cfg); err != nil {
		return nil, err
	}

	env, err := mdbx.NewEnv(mdbx.Label("gkv"))
	if err != nil {
		return nil, wrap(err, "mdbx env")
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(cfg.MaxDBs)); err != nil {
		env.Close()
		return nil, wrap(err, "set max dbs")
	}
	if err := env.SetOption(mdbx.OptMaxReaders, uint64(cfg.MaxReaders)); err != nil {
		env.Close()
		return nil, wrap(err, "set max readers")
	}
	if err := env.SetGeometry(-1, -1, int(cfg.MapSize), -1, -1, -1); err != nil {
		env.Close()
		return nil, wrap(err, "set geometry")
	}

	var flags uint
	if cfg.Flags&backend.EnvNoSubdir != 0 {
		flags |= mdbx.NoSubdir
	}
	if cfg.ReadOnly() {
		flags |= mdbx.Readonly
	}
	if cfg.NoSync() {
		flags |= mdbx.SafeNoSync
	}
	if cfg.Flags&backend.EnvWriteMap != 0 {
		flags |= mdbx.WriteMap
	}
	if err := env.Open(path, flags, 0644); err != nil {
		env.Close()
		return nil, wrap(err, "open "+path)
	}

	log.Debug("Opened environment", "path", path, "flags", flags)
	return &Env{env: env, path: path, cfg: cfg}, nil
}

func (e *Env) checkOpen() error {
	if e.closed.Load() {
		err := backend.NewError(backend.ErrBadTxn)
		err.Message = "environment is closed"
		return err
	}
	return nil
}

func (e *Env) intern(d *DB) *DB {
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()
	if old, ok := e.handles.Get(uint32(d.dbi)); ok {
		return old
	}
	e.handles.Set(uint32(d.dbi), d)
	return d
}

func (e *Env) BeginRo() (backend.RoTransaction, error) {
	return e.beginRo()
}

func (e *Env) beginRo() (*Txn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	tx, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, wrap(err, "begin ro")
	}
	e.txnWg.Add(1)
	return &Txn{env: e, tx: tx}, nil
}

func (e *Env) BeginRw() (backend.RwTransaction, error) {
	return e.beginRw(false)
}

// TryBeginRw starts a write transaction or fails with ErrBusy.
func (e *Env) TryBeginRw() (backend.RwTransaction, error) {
	return e.beginRw(true)
}

func (e *Env) beginRw(try bool) (*Txn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.ReadOnly() {
		return nil, backend.NewError(backend.ErrPermissionDenied)
	}
	if try {
		if !e.writer.TryLock() {
			return nil, backend.NewError(backend.ErrBusy)
		}
	} else {
		e.writer.Lock()
	}

	runtime.LockOSThread()
	tx, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		e.writer.Unlock()
		return nil, wrap(err, "begin rw")
	}
	e.txnWg.Add(1)
	return &Txn{env: e, tx: tx, writable: true}, nil
}

// DatabaseNames lists the named databases recorded in the main table.
func (e *Env) DatabaseNames() ([]string, error) {
	txn, err := e.beginRo()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	root, err := txn.tx.OpenRoot(0)
	if err != nil {
		return nil, wrap(err, "open root")
	}
	cur, err := txn.tx.OpenCursor(root)
	if err != nil {
		return nil, wrap(err, "open cursor")
	}
	defer cur.Close()

	var names []string
	for k, _, err := cur.Get(nil, nil, mdbx.First); ; k, _, err = cur.Get(nil, nil, mdbx.NextNoDup) {
		if mdbx.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, wrap(err, "list databases")
		}
		names = append(names, string(k))
	}
	return names, nil
}

// OpenDatabase opens an existing database.
func (e *Env) OpenDatabase(name string) (backend.Database, error) {
	txn, err := e.beginRo()
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	dbi, err := txn.tx.OpenDBISimple(name, 0)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, backend.KeyError(backend.ErrDatabaseNotFound, []byte(name))
		}
		return nil, wrap(err, "open database "+name)
	}
	d, err := e.describe(txn.tx, name, dbi)
	if err != nil {
		return nil, err
	}
	// Committing a read transaction publishes the handle to the environment.
	if _, err := txn.tx.Commit(); err != nil {
		return nil, wrap(err, "publish handle")
	}
	txn.finish()
	return e.intern(d), nil
}

// CreateDatabase opens name, creating it when absent. An existing database
// keeps its stored flags.
func (e *Env) CreateDatabase(name string, flags backend.DatabaseFlags) (backend.Database, error) {
	txn, err := e.beginRw(false)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	// Zero flags open an existing table with whatever flags it was created
	// with. Create must not be combined with DBAccede.
	dbi, err := txn.tx.OpenDBISimple(name, 0)
	if mdbx.IsNotFound(err) {
		var f uint = mdbx.Create
		if flags&backend.DBDupSort != 0 {
			f |= mdbx.DupSort
		}
		dbi, err = txn.tx.OpenDBISimple(name, f)
	}
	if err != nil {
		return nil, wrap(err, "create database "+name)
	}
	d, err := e.describe(txn.tx, name, dbi)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return e.intern(d), nil
}

func (e *Env) describe(tx *mdbx.Txn, name string, dbi mdbx.DBI) (*DB, error) {
	stored, err := tx.Flags(dbi)
	if err != nil {
		return nil, wrap(err, "database flags")
	}
	d := &DB{name: name, dbi: dbi, env: e}
	if stored&mdbx.DupSort != 0 {
		d.flags |= backend.DBDupSort
	}
	return d, nil
}

func (e *Env) Sync(force bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.cfg.ReadOnly() {
		return nil
	}
	return wrap(e.env.Sync(force, false), "sync")
}

// Stat sums the statistics of every named database.
func (e *Env) Stat() (backend.Stat, error) {
	names, err := e.DatabaseNames()
	if err != nil {
		return backend.Stat{}, err
	}
	txn, err := e.beginRo()
	if err != nil {
		return backend.Stat{}, err
	}
	defer txn.Abort()

	var total backend.Stat
	for _, name := range names {
		dbi, err := txn.tx.OpenDBISimple(name, 0)
		if err != nil {
			return backend.Stat{}, wrap(err, "open database "+name)
		}
		st, err := txn.tx.StatDBI(dbi)
		if err != nil {
			return backend.Stat{}, wrap(err, "stat "+name)
		}
		total.PageSize = uint32(st.PSize)
		if d := uint32(st.Depth); d > total.Depth {
			total.Depth = d
		}
		total.BranchPages += st.BranchPages
		total.LeafPages += st.LeafPages
		total.OverflowPages += st.OverflowPages
		total.Entries += st.Entries
	}
	if total.PageSize == 0 {
		st, err := e.env.Stat()
		if err != nil {
			return backend.Stat{}, wrap(err, "stat")
		}
		total.PageSize = uint32(st.PSize)
	}
	return total, nil
}

func (e *Env) Info() (backend.Info, error) {
	if err := e.checkOpen(); err != nil {
		return backend.Info{}, err
	}
	info, err := e.env.Info(nil)
	if err != nil {
		return backend.Info{}, wrap(err, "info")
	}
	return backend.Info{
		MapSize:    uint64(info.MapSize),
		LastPgno:   uint64(info.LastPNO),
		LastTxnID:  uint64(info.LastTxnID),
		MaxReaders: uint32(info.MaxReaders),
		NumReaders: uint32(info.NumReaders),
	}, nil
}

// SetMapSize changes the upper bound of the map. No transaction may be
// active.
func (e *Env) SetMapSize(size uint64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return wrap(e.env.SetGeometry(-1, -1, int(size), -1, -1, -1), "set map size")
}

func (e *Env) Files() []string {
	if e.cfg.Flags&backend.EnvNoSubdir != 0 {
		return []string{e.path, e.path + LockSuffix}
	}
	return []string{filepath.Join(e.path, DataFileName), filepath.Join(e.path, LockFileName)}
}

func (e *Env) Version() string { return version }

// Close waits for live transactions and closes the environment.
func (e *Env) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.txnWg.Wait()
	e.env.Close()
	return nil
}

// DB is an MDBX table handle.
type DB struct {
	name  string
	dbi   mdbx.DBI
	flags backend.DatabaseFlags
	env   *Env
}

func (d *DB) Name() string                 { return d.name }
func (d *DB) Flags() backend.DatabaseFlags { return d.flags }
func (d *DB) dupSort() bool                { return d.flags&backend.DBDupSort != 0 }

// errnoCodes maps MDBX errors onto backend codes.
var errnoCodes = []struct {
	errno mdbx.Errno
	code  backend.ErrorCode
}{
	{mdbx.NotFound, backend.ErrNotFound},
	{mdbx.KeyExist, backend.ErrKeyExist},
	{mdbx.MapFull, backend.ErrMapFull},
	{mdbx.DBsFull, backend.ErrDBsFull},
	{mdbx.ReadersFull, backend.ErrReadersFull},
	{mdbx.Corrupted, backend.ErrCorrupted},
	{mdbx.Incompatible, backend.ErrIncompatible},
	{mdbx.BadTxn, backend.ErrBadTxn},
	{mdbx.BadValSize, backend.ErrBadValSize},
	{mdbx.BadDBI, backend.ErrBadDBI},
}

// wrap converts an mdbx error into a coded backend error.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, m := range errnoCodes {
		if mdbx.IsErrno(err, m.errno) {
			return backend.WrapError(m.code, errors.Wrap(err, op))
		}
	}
	return backend.WrapError(backend.ErrProblem, errors.Wrap(err, op))
}
