package gkv

import (
	"time"

	"github.com/Giulio2002/gkv/backend"
)

// Readable is a transaction that stores can read through: a *Reader or a
// *Writer.
type Readable interface {
	get(db backend.Database, key []byte) ([]byte, error)
	roCursor(db backend.Database) (backend.RoCursor, error)
}

// RwReadable is a transaction that can also open the reverse duplicate
// cursor. Only *Writer implements it.
type RwReadable interface {
	Readable
	rwCursor(db backend.Database) (backend.RwCursor, error)
}

var (
	_ Readable   = (*Reader)(nil)
	_ RwReadable = (*Writer)(nil)
)

// Reader is a read-only snapshot transaction.
type Reader struct {
	rkv  *Rkv
	txn  backend.RoTransaction
	done bool
}

func (r *Reader) check() error {
	if r.done {
		return backend.NewError(backend.ErrBadTxn)
	}
	return nil
}

func (r *Reader) get(db backend.Database, key []byte) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.txn.Get(db, key)
}

func (r *Reader) roCursor(db backend.Database) (backend.RoCursor, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.txn.OpenRoCursor(db)
}

// Get returns the value of key. A missing key is reported as ok == false,
// not as an error.
func (r *Reader) Get(db backend.Database, key []byte) (Value, bool, error) {
	return getValue(r, db, key, DecodeValue)
}

// Abort releases the snapshot. It is idempotent.
func (r *Reader) Abort() {
	if r.done {
		return
	}
	r.done = true
	r.txn.Abort()
	r.rkv.metrics.roAborted.Inc()
}

// Writer is the exclusive read-write transaction of an Rkv.
type Writer struct {
	rkv   *Rkv
	txn   backend.RwTransaction
	start time.Time
	done  bool
}

func (w *Writer) check() error {
	if w.done {
		return backend.NewError(backend.ErrBadTxn)
	}
	return nil
}

func (w *Writer) get(db backend.Database, key []byte) ([]byte, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	return w.txn.Get(db, key)
}

func (w *Writer) roCursor(db backend.Database) (backend.RoCursor, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	return w.txn.OpenRoCursor(db)
}

func (w *Writer) rwCursor(db backend.Database) (backend.RwCursor, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	return w.txn.OpenRwCursor(db)
}

// Get returns the value of key as seen by this transaction, including its
// own uncommitted writes.
func (w *Writer) Get(db backend.Database, key []byte) (Value, bool, error) {
	return getValue(w, db, key, DecodeValue)
}

// Put encodes value and stores it under key.
func (w *Writer) Put(db backend.Database, key []byte, value Value, flags backend.WriteFlags) error {
	enc, err := value.Encode()
	if err != nil {
		return err
	}
	return w.putRaw(db, key, enc, flags)
}

func (w *Writer) putRaw(db backend.Database, key, enc []byte, flags backend.WriteFlags) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.txn.Put(db, key, enc, flags&^WriteKeepCopies)
}

// Delete removes key, or only the pair (key, *value) when value is not nil.
// Absence is a NotFound error in both cases.
func (w *Writer) Delete(db backend.Database, key []byte, value *Value) error {
	if value == nil {
		return w.deleteRaw(db, key, nil)
	}
	enc, err := value.Encode()
	if err != nil {
		return err
	}
	return w.deleteRaw(db, key, enc)
}

func (w *Writer) deleteRaw(db backend.Database, key, enc []byte) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.txn.Delete(db, key, enc)
}

// Clear removes every entry of db.
func (w *Writer) Clear(db backend.Database) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.txn.Clear(db)
}

// Commit makes the transaction's writes durable and visible.
func (w *Writer) Commit() error {
	if err := w.check(); err != nil {
		return err
	}
	w.done = true
	err := w.txn.Commit()
	if err != nil {
		w.rkv.metrics.rwFailed.Inc()
		w.rkv.log.Warn("Commit failed", "err", err)
		return err
	}
	w.rkv.metrics.rwCommitted.Inc()
	w.rkv.metrics.commitDuration.UpdateDuration(w.start)
	return nil
}

// Abort discards the transaction. It is a no-op after Commit or Abort.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.txn.Abort()
	w.rkv.metrics.rwAborted.Inc()
}

func getValue(r Readable, db backend.Database, key []byte, decode func([]byte) (Value, error)) (Value, bool, error) {
	raw, err := r.get(db, key)
	if backend.IsNotFound(err) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	v, err := decode(raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}
