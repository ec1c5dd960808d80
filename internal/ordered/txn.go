package ordered

import (
	"github.com/Giulio2002/gkv/backend"
)

// View is one transaction's raw access to an engine.
type View interface {
	// Catalog returns the table holding database names and counters.
	Catalog() (Table, error)

	// Table returns db's table. Writable views return a MutableTable and
	// create the engine namespace when needed.
	Table(db *DB) (Table, error)

	// Commit persists a writable view.
	Commit() error

	// Release frees the view. It is called exactly once.
	Release()
}

// Txn implements backend.RoTransaction and backend.RwTransaction.
// A Txn is not safe for concurrent use.
type Txn struct {
	env      *Environment
	view     View
	writable bool
	done     bool
	release  func()
}

var (
	_ backend.RoTransaction = (*Txn)(nil)
	_ backend.RwTransaction = (*Txn)(nil)
	_ backend.RwCursor      = (*Cursor)(nil)
)

func (t *Txn) check() error {
	if t.done {
		return backend.NewError(backend.ErrBadTxn)
	}
	return nil
}

func (t *Txn) resolve(db backend.Database) (*DB, Table, error) {
	if err := t.check(); err != nil {
		return nil, nil, err
	}
	d, ok := db.(*DB)
	if !ok || d.env != t.env {
		return nil, nil, backend.NewError(backend.ErrBadDBI)
	}
	tbl, err := t.view.Table(d)
	if err != nil {
		return nil, nil, t.env.wrap(err)
	}
	return d, tbl, nil
}

func (t *Txn) resolveRw(db backend.Database) (*DB, MutableTable, error) {
	if t.done {
		return nil, nil, backend.NewError(backend.ErrBadTxn)
	}
	if !t.writable {
		return nil, nil, backend.NewError(backend.ErrPermissionDenied)
	}
	d, tbl, err := t.resolve(db)
	if err != nil {
		return nil, nil, err
	}
	return d, tbl.(MutableTable), nil
}

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > backend.MaxKeySize {
		return backend.KeyError(backend.ErrBadValSize, key)
	}
	return nil
}

func (t *Txn) Get(db backend.Database, key []byte) ([]byte, error) {
	d, tbl, err := t.resolve(db)
	if err != nil {
		return nil, err
	}
	v, err := get(tbl, d.dupSort(), key)
	return v, t.env.wrap(err)
}

func (t *Txn) Stat(db backend.Database) (backend.Stat, error) {
	_, tbl, err := t.resolve(db)
	if err != nil {
		return backend.Stat{}, err
	}
	entries, size, err := count(tbl)
	if err != nil {
		return backend.Stat{}, t.env.wrap(err)
	}
	return t.env.estimate(entries, size), nil
}

func (t *Txn) OpenRoCursor(db backend.Database) (backend.RoCursor, error) {
	return t.openCursor(db)
}

func (t *Txn) OpenRwCursor(db backend.Database) (backend.RwCursor, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if !t.writable {
		return nil, backend.NewError(backend.ErrPermissionDenied)
	}
	return t.openCursor(db)
}

func (t *Txn) openCursor(db backend.Database) (*Cursor, error) {
	d, tbl, err := t.resolve(db)
	if err != nil {
		return nil, err
	}
	return &Cursor{txn: t, table: tbl, dup: d.dupSort()}, nil
}

func (t *Txn) Put(db backend.Database, key, value []byte, flags backend.WriteFlags) error {
	d, tbl, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if err := t.env.reserve(len(key) + len(value)); err != nil {
		return err
	}
	return t.env.wrap(put(tbl, d.dupSort(), key, value, flags))
}

func (t *Txn) Delete(db backend.Database, key, value []byte) error {
	d, tbl, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	return t.env.wrap(del(tbl, d.dupSort(), key, value))
}

func (t *Txn) Clear(db backend.Database) error {
	_, tbl, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	return t.env.wrap(clearTable(tbl))
}

// Commit persists a write transaction. Committing a read transaction just
// releases it.
func (t *Txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.writable {
		t.finish()
		return nil
	}
	defer t.finish()

	cat, err := t.view.Catalog()
	if err != nil {
		return t.env.wrap(err)
	}
	id, err := bumpTxnID(cat.(MutableTable))
	if err != nil {
		return t.env.wrap(err)
	}
	if err := t.view.Commit(); err != nil {
		return t.env.wrap(err)
	}
	t.env.lastTxn.Store(id)
	return nil
}

// Abort discards the transaction. It is idempotent.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.finish()
}

func (t *Txn) finish() {
	t.done = true
	t.view.Release()
	if t.release != nil {
		t.release()
	}
}
