package mdbx

import (
	"runtime"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/Giulio2002/gkv/backend"
)

// Txn implements backend.RoTransaction and backend.RwTransaction.
type Txn struct {
	env      *Env
	tx       *mdbx.Txn
	writable bool
	done     bool
}

var (
	_ backend.RoTransaction = (*Txn)(nil)
	_ backend.RwTransaction = (*Txn)(nil)
)

func (t *Txn) check() error {
	if t.done {
		return backend.NewError(backend.ErrBadTxn)
	}
	return nil
}

func (t *Txn) resolve(db backend.Database) (*DB, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	d, ok := db.(*DB)
	if !ok || d.env != t.env {
		return nil, backend.NewError(backend.ErrBadDBI)
	}
	return d, nil
}

func (t *Txn) resolveRw(db backend.Database) (*DB, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if !t.writable {
		return nil, backend.NewError(backend.ErrPermissionDenied)
	}
	return t.resolve(db)
}

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > backend.MaxKeySize {
		return backend.KeyError(backend.ErrBadValSize, key)
	}
	return nil
}

// Get returns the value of key, the smallest one in a duplicate-sorted
// database.
func (t *Txn) Get(db backend.Database, key []byte) ([]byte, error) {
	d, err := t.resolve(db)
	if err != nil {
		return nil, err
	}
	v, err := t.tx.Get(d.dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, backend.KeyError(backend.ErrNotFound, key)
		}
		return nil, wrap(err, "get")
	}
	return v, nil
}

func (t *Txn) Stat(db backend.Database) (backend.Stat, error) {
	d, err := t.resolve(db)
	if err != nil {
		return backend.Stat{}, err
	}
	st, err := t.tx.StatDBI(d.dbi)
	if err != nil {
		return backend.Stat{}, wrap(err, "stat")
	}
	return backend.Stat{
		PageSize:      uint32(st.PSize),
		Depth:         uint32(st.Depth),
		BranchPages:   st.BranchPages,
		LeafPages:     st.LeafPages,
		OverflowPages: st.OverflowPages,
		Entries:       st.Entries,
	}, nil
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
	d, err := t.resolve(db)
	if err != nil {
		return nil, err
	}
	return &Cursor{txn: t, db: d}, nil
}

func (t *Txn) Put(db backend.Database, key, value []byte, flags backend.WriteFlags) error {
	d, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	var f uint = mdbx.Upsert
	if flags&backend.WriteNoOverwrite != 0 {
		f |= mdbx.NoOverwrite
	}
	if flags&backend.WriteNoDupData != 0 {
		f |= mdbx.NoDupData
	}
	if value == nil {
		value = []byte{}
	}
	err = t.tx.Put(d.dbi, key, value, f)
	if err != nil && d.dupSort() && f == mdbx.Upsert && mdbx.IsErrno(err, mdbx.KeyExist) {
		// An exact duplicate under default flags is already stored.
		return nil
	}
	if err != nil && mdbx.IsErrno(err, mdbx.KeyExist) {
		return backend.KeyError(backend.ErrKeyExist, key)
	}
	return wrap(err, "put")
}

// Delete removes the exact pair, or every value of key when value is nil.
func (t *Txn) Delete(db backend.Database, key, value []byte) error {
	d, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if !d.dupSort() && value != nil {
		// A plain table only matches the pair when the stored value agrees.
		cur, err := t.tx.Get(d.dbi, key)
		if err == nil && string(cur) != string(value) {
			return backend.KeyError(backend.ErrNotFound, key)
		}
		value = nil
	}
	if err := t.tx.Del(d.dbi, key, value); err != nil {
		if mdbx.IsNotFound(err) {
			return backend.KeyError(backend.ErrNotFound, key)
		}
		return wrap(err, "delete")
	}
	return nil
}

// Clear empties db but keeps it in the environment.
func (t *Txn) Clear(db backend.Database) error {
	d, err := t.resolveRw(db)
	if err != nil {
		return err
	}
	return wrap(t.tx.Drop(d.dbi, false), "clear")
}

// Commit persists a write transaction. Committing a read transaction just
// releases it.
func (t *Txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.writable {
		t.tx.Abort()
		t.finish()
		return nil
	}
	_, err := t.tx.Commit()
	t.finish()
	return wrap(err, "commit")
}

// Abort discards the transaction. It is idempotent.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.tx.Abort()
	t.finish()
}

func (t *Txn) finish() {
	t.done = true
	if t.writable {
		runtime.UnlockOSThread()
		t.env.writer.Unlock()
	}
	t.env.txnWg.Done()
}
