package mdbx

import (
	"bytes"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/Giulio2002/gkv/backend"
)

// Cursor implements backend.RwCursor. The MDBX cursor is opened when the
// Cursor is consumed and is owned by the resulting iterator.
type Cursor struct {
	txn  *Txn
	db   *DB
	used bool
}

var _ backend.RwCursor = (*Cursor)(nil)

func (c *Cursor) take() (*mdbx.Cursor, error) {
	if c.used {
		return nil, backend.NewError(backend.ErrBadCursor)
	}
	c.used = true
	if err := c.txn.check(); err != nil {
		return nil, err
	}
	cur, err := c.txn.tx.OpenCursor(c.db.dbi)
	if err != nil {
		return nil, wrap(err, "open cursor")
	}
	return cur, nil
}

// position moves a fresh cursor to the first entry of an iteration.
type position func(cur *mdbx.Cursor) (k, v []byte, err error)

func op(code uint) position {
	return func(cur *mdbx.Cursor) ([]byte, []byte, error) {
		return cur.Get(nil, nil, code)
	}
}

func (c *Cursor) iter(first position, next uint, keep func(k, v []byte) bool) backend.Iter {
	cur, err := c.take()
	if err != nil {
		return &iter{err: err, done: true}
	}
	return &iter{cur: cur, first: first, next: next, keep: keep}
}

func (c *Cursor) Iter() backend.Iter {
	return c.iter(op(mdbx.First), mdbx.Next, nil)
}

func (c *Cursor) IterFrom(key []byte) backend.Iter {
	k := append([]byte{}, key...)
	return c.iter(func(cur *mdbx.Cursor) ([]byte, []byte, error) {
		return cur.Get(k, nil, mdbx.SetRange)
	}, mdbx.Next, nil)
}

func (c *Cursor) IterDupOf(key []byte) backend.Iter {
	k := append([]byte{}, key...)
	first := func(cur *mdbx.Cursor) ([]byte, []byte, error) {
		return cur.Get(k, nil, mdbx.SetKey)
	}
	if c.db.dupSort() {
		return c.iter(first, mdbx.NextDup, nil)
	}
	return c.iter(first, mdbx.Next, sameKey(k))
}

func (c *Cursor) IterDupFrom(key, value []byte) backend.Iter {
	k := append([]byte{}, key...)
	v := append([]byte{}, value...)
	if c.db.dupSort() {
		return c.iter(func(cur *mdbx.Cursor) ([]byte, []byte, error) {
			_, val, err := cur.Get(k, v, mdbx.GetBothRange)
			return k, val, err
		}, mdbx.NextDup, nil)
	}
	return c.iter(func(cur *mdbx.Cursor) ([]byte, []byte, error) {
		return cur.Get(k, nil, mdbx.SetKey)
	}, mdbx.Next, func(key, val []byte) bool {
		return bytes.Equal(key, k) && bytes.Compare(val, v) >= 0
	})
}

func (c *Cursor) IterPrev() backend.Iter {
	return c.iter(op(mdbx.Last), mdbx.Prev, nil)
}

// GetKeyValue reports whether the exact pair is stored.
func (c *Cursor) GetKeyValue(key, value []byte) (bool, error) {
	cur, err := c.take()
	if err != nil {
		return false, err
	}
	defer cur.Close()

	if c.db.dupSort() {
		_, _, err = cur.Get(key, value, mdbx.GetBoth)
		if mdbx.IsNotFound(err) {
			return false, nil
		}
		return err == nil, wrap(err, "get both")
	}
	_, v, err := cur.Get(key, nil, mdbx.SetKey)
	if mdbx.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "set key")
	}
	return bytes.Equal(v, value), nil
}

// IterPrevDupFrom walks keys at or below key downwards.
func (c *Cursor) IterPrevDupFrom(key []byte) backend.DupIter {
	cur, err := c.take()
	if err != nil {
		return &prevDupIter{err: err, done: true}
	}
	prev := uint(mdbx.Prev)
	if c.db.dupSort() {
		prev = mdbx.PrevNoDup
	}
	return &prevDupIter{cur: cur, dup: c.db.dupSort(), target: append([]byte{}, key...), prev: prev}
}

func (c *Cursor) Close() {
	c.used = true
}

func sameKey(k []byte) func(key, _ []byte) bool {
	return func(key, _ []byte) bool { return bytes.Equal(key, k) }
}

// iter owns an MDBX cursor and walks it with one operation.
type iter struct {
	cur   *mdbx.Cursor
	first position
	next  uint
	keep  func(k, v []byte) bool

	started bool
	done    bool
	key     []byte
	value   []byte
	err     error
}

func (it *iter) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	var err error
	if !it.started {
		it.started = true
		k, v, err = it.first(it.cur)
	} else {
		k, v, err = it.cur.Get(nil, nil, it.next)
	}
	if err != nil {
		it.done = true
		if !mdbx.IsNotFound(err) {
			it.err = wrap(err, "cursor")
		}
		return false
	}
	if it.keep != nil && !it.keep(k, v) {
		it.done = true
		return false
	}
	it.key, it.value = k, v
	return true
}

func (it *iter) Key() []byte   { return it.key }
func (it *iter) Value() []byte { return it.value }
func (it *iter) Err() error    { return it.err }

func (it *iter) Close() {
	it.done = true
	if it.cur != nil {
		it.cur.Close()
		it.cur = nil
	}
}

// prevDupIter positions on the greatest key <= target and then steps to
// the previous key on every Next.
type prevDupIter struct {
	cur    *mdbx.Cursor
	dup    bool
	target []byte
	prev   uint

	started bool
	done    bool
	key     []byte
	err     error
}

func (d *prevDupIter) Next() bool {
	if d.done {
		return false
	}
	var k []byte
	var err error
	if !d.started {
		d.started = true
		k, _, err = d.cur.Get(d.target, nil, mdbx.SetRange)
		switch {
		case mdbx.IsNotFound(err):
			k, _, err = d.cur.Get(nil, nil, mdbx.Last)
		case err == nil && !bytes.Equal(k, d.target):
			k, _, err = d.cur.Get(nil, nil, d.prev)
		}
	} else {
		k, _, err = d.cur.Get(nil, nil, d.prev)
	}
	if err != nil {
		d.done = true
		if !mdbx.IsNotFound(err) {
			d.err = wrap(err, "cursor")
		}
		return false
	}
	d.key = append(d.key[:0:0], k...)
	return true
}

func (d *prevDupIter) Key() []byte { return d.key }

func (d *prevDupIter) Dups() backend.Iter {
	return &dupsIter{parent: d}
}

func (d *prevDupIter) Err() error { return d.err }

func (d *prevDupIter) Close() {
	d.done = true
	if d.cur != nil {
		d.cur.Close()
		d.cur = nil
	}
}

// dupsIter borrows its parent's cursor and yields the current key's values
// from the last duplicate down.
type dupsIter struct {
	parent  *prevDupIter
	started bool
	done    bool
	value   []byte
	err     error
}

func (it *dupsIter) Next() bool {
	p := it.parent
	if it.done || p.done || !p.started {
		return false
	}
	var v []byte
	var err error
	switch {
	case !p.dup && it.started:
		it.done = true
		return false
	case !p.dup:
		_, v, err = p.cur.Get(nil, nil, mdbx.GetCurrent)
	case !it.started:
		_, v, err = p.cur.Get(nil, nil, mdbx.LastDup)
	default:
		_, v, err = p.cur.Get(nil, nil, mdbx.PrevDup)
	}
	it.started = true
	if err != nil {
		it.done = true
		if !mdbx.IsNotFound(err) {
			it.err = wrap(err, "cursor")
		}
		return false
	}
	it.value = v
	return true
}

func (it *dupsIter) Key() []byte   { return it.parent.key }
func (it *dupsIter) Value() []byte { return it.value }
func (it *dupsIter) Err() error    { return it.err }
func (it *dupsIter) Close()        { it.done = true }
