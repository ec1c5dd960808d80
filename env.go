package gkv

import (
	"time"

	"github.com/inconshreveable/log15"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Giulio2002/gkv/backend"
)

// Rkv is an open environment. It hands out stores, readers and writers
// and caches database handles by name.
type Rkv struct {
	env     backend.Environment
	path    string
	label   string
	dbs     *xsync.MapOf[string, backend.Database]
	metrics *txnMetrics
	log     log15.Logger
}

// Open opens the environment at path with open, one of the backend
// adapters' Open functions.
func Open(open backend.OpenFunc, path string, cfg backend.Config) (*Rkv, error) {
	env, err := open(path, cfg.WithDefaults())
	if err != nil {
		return nil, err
	}
	r := New(env)
	r.path = path
	r.log = r.log.New("path", path)
	r.log.Debug("Opened environment", "maxdbs", cfg.MaxDBs, "flags", cfg.Flags)
	return r, nil
}

// New wraps an already open environment. The Rkv takes ownership of env.
func New(env backend.Environment) *Rkv {
	label := backendLabel(env.Version())
	return &Rkv{
		env:     env,
		label:   label,
		dbs:     xsync.NewMapOf[string, backend.Database](),
		metrics: newTxnMetrics(label),
		log:     log15.New("pkg", "gkv", "backend", label),
	}
}

// Env returns the wrapped environment.
func (r *Rkv) Env() backend.Environment { return r.env }

// Path returns the path given to Open, or "" for New.
func (r *Rkv) Path() string { return r.path }

// Read starts a snapshot transaction.
func (r *Rkv) Read() (*Reader, error) {
	txn, err := r.env.BeginRo()
	if err != nil {
		return nil, err
	}
	r.metrics.roBegun.Inc()
	return &Reader{rkv: r, txn: txn}, nil
}

// Write starts the write transaction, waiting for the active one to
// finish.
func (r *Rkv) Write() (*Writer, error) {
	txn, err := r.env.BeginRw()
	if err != nil {
		return nil, err
	}
	return r.writer(txn), nil
}

// TryWrite starts the write transaction or fails with a Busy error when
// another one is active. Environments that cannot refuse a writer block
// instead.
func (r *Rkv) TryWrite() (*Writer, error) {
	tb, ok := r.env.(backend.TryBeginner)
	if !ok {
		return r.Write()
	}
	txn, err := tb.TryBeginRw()
	if err != nil {
		if backend.IsBusy(err) {
			r.metrics.rwBusy.Inc()
		}
		return nil, err
	}
	return r.writer(txn), nil
}

func (r *Rkv) writer(txn backend.RwTransaction) *Writer {
	r.metrics.rwBegun.Inc()
	return &Writer{rkv: r, txn: txn, start: time.Now()}
}

// View runs fn in a read transaction.
func (r *Rkv) View(fn func(*Reader) error) error {
	rd, err := r.Read()
	if err != nil {
		return err
	}
	defer rd.Abort()
	return fn(rd)
}

// Update runs fn in a write transaction and commits unless fn fails.
func (r *Rkv) Update(fn func(*Writer) error) error {
	w, err := r.Write()
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// OpenSingle opens a single-value store. Stores are opened in their own
// transaction, so do not call it while this goroutine holds a Writer.
func (r *Rkv) OpenSingle(name string, opts StoreOptions) (SingleStore, error) {
	db, err := r.openDatabase(name, opts.Create, opts.Flags&^backend.DBDupSort)
	return SingleStore{db: db}, err
}

// OpenMulti opens a duplicate-sorted store.
func (r *Rkv) OpenMulti(name string, opts StoreOptions) (MultiStore, error) {
	db, err := r.openDatabase(name, opts.Create, opts.Flags|backend.DBDupSort)
	return MultiStore{db: db}, err
}

// OpenInteger opens a single-value store keyed by K.
func OpenInteger[K Unsigned](r *Rkv, name string, opts StoreOptions) (IntegerStore[K], error) {
	opts.Flags |= backend.DBIntegerKey
	s, err := r.OpenSingle(name, opts)
	return IntegerStore[K]{inner: s}, err
}

// OpenMultiInteger opens a duplicate-sorted store keyed by K.
func OpenMultiInteger[K Unsigned](r *Rkv, name string, opts StoreOptions) (MultiIntegerStore[K], error) {
	opts.Flags |= backend.DBIntegerKey
	s, err := r.OpenMulti(name, opts)
	return MultiIntegerStore[K]{inner: s}, err
}

// openDatabase returns the cached handle of name or opens it. The
// duplicate-sort shape of an existing database must match flags.
func (r *Rkv) openDatabase(name string, create bool, flags backend.DatabaseFlags) (backend.Database, error) {
	db, ok := r.dbs.Load(name)
	if !ok {
		var err error
		if create {
			db, err = r.env.CreateDatabase(name, flags)
		} else {
			db, err = r.env.OpenDatabase(name)
		}
		if err != nil {
			return nil, err
		}
		db, _ = r.dbs.LoadOrStore(name, db)
	}
	if db.Flags()&backend.DBDupSort != flags&backend.DBDupSort {
		e := backend.NewError(backend.ErrIncompatible)
		e.Message = "database " + name + " has a different shape"
		return nil, e
	}
	return db, nil
}

// DatabaseNames lists the named databases.
func (r *Rkv) DatabaseNames() ([]string, error) {
	return r.env.DatabaseNames()
}

func (r *Rkv) Stat() (backend.Stat, error) { return r.env.Stat() }
func (r *Rkv) Info() (backend.Info, error) { return r.env.Info() }

// LoadRatio is the fraction of the map size in use.
func (r *Rkv) LoadRatio() (float64, error) {
	st, err := r.env.Stat()
	if err != nil {
		return 0, err
	}
	info, err := r.env.Info()
	if err != nil {
		return 0, err
	}
	if info.MapSize == 0 {
		return 0, nil
	}
	used := float64(info.LastPgno+1) * float64(st.PageSize)
	return used / float64(info.MapSize), nil
}

// SetMapSize changes the map size ceiling. No transaction may be active.
func (r *Rkv) SetMapSize(size uint64) error {
	return r.env.SetMapSize(size)
}

// Sync flushes written data to disk.
func (r *Rkv) Sync(force bool) error {
	return r.env.Sync(force)
}

// Files lists the files backing the environment.
func (r *Rkv) Files() []string { return r.env.Files() }

// Version returns the engine version.
func (r *Rkv) Version() string { return r.env.Version() }

// Close closes the environment. Stores opened from it become invalid.
func (r *Rkv) Close() error {
	r.dbs.Clear()
	r.log.Debug("Closing environment")
	return r.env.Close()
}
