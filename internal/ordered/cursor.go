package ordered

import (
	"bytes"

	"github.com/Giulio2002/gkv/backend"
)

// Cursor implements backend.RwCursor over a Table. The underlying Source is
// opened when the cursor is consumed and handed to the resulting iterator.
type Cursor struct {
	txn   *Txn
	table Table
	dup   bool
	used  bool
}

func (c *Cursor) take() (Source, error) {
	if c.used {
		return nil, backend.NewError(backend.ErrBadCursor)
	}
	c.used = true
	if err := c.txn.check(); err != nil {
		return nil, err
	}
	return c.table.NewSource()
}

func (c *Cursor) iter(first func(Source) bool, backward bool, keep func(raw, value []byte) bool) backend.Iter {
	src, err := c.take()
	if err != nil {
		return &iter{err: err, done: true}
	}
	return &iter{src: src, dup: c.dup, first: first, backward: backward, keep: keep}
}

func (c *Cursor) Iter() backend.Iter {
	return c.iter(Source.First, false, nil)
}

func (c *Cursor) IterFrom(key []byte) backend.Iter {
	seek := append([]byte{}, key...)
	if c.dup {
		seek = runPrefix(key)
	}
	return c.iter(func(s Source) bool { return s.Seek(seek) }, false, nil)
}

func (c *Cursor) IterDupOf(key []byte) backend.Iter {
	if c.dup {
		run := runPrefix(key)
		return c.iter(func(s Source) bool { return s.Seek(run) }, false, hasPrefix(run))
	}
	k := append([]byte{}, key...)
	return c.iter(func(s Source) bool { return s.Seek(k) }, false, func(raw, _ []byte) bool {
		return bytes.Equal(raw, k)
	})
}

func (c *Cursor) IterDupFrom(key, value []byte) backend.Iter {
	if c.dup {
		run := runPrefix(key)
		start := append(append([]byte{}, run...), value...)
		return c.iter(func(s Source) bool { return s.Seek(start) }, false, hasPrefix(run))
	}
	k := append([]byte{}, key...)
	v := append([]byte{}, value...)
	return c.iter(func(s Source) bool { return s.Seek(k) }, false, func(raw, val []byte) bool {
		return bytes.Equal(raw, k) && bytes.Compare(val, v) >= 0
	})
}

func (c *Cursor) IterPrev() backend.Iter {
	return c.iter(Source.Last, true, nil)
}

func (c *Cursor) GetKeyValue(key, value []byte) (bool, error) {
	src, err := c.take()
	if err != nil {
		return false, err
	}
	defer src.Close()
	if c.dup {
		raw := composite(key, value)
		ok := src.Seek(raw) && bytes.Equal(src.Key(), raw)
		return ok, src.Err()
	}
	ok := src.Seek(key) && bytes.Equal(src.Key(), key) && bytes.Equal(src.Value(), value)
	return ok, src.Err()
}

func (c *Cursor) IterPrevDupFrom(key []byte) backend.DupIter {
	src, err := c.take()
	if err != nil {
		return &prevDupIter{err: err, done: true}
	}
	target := append(append([]byte{}, key...), 0)
	if c.dup {
		target = afterRun(key)
	}
	return &prevDupIter{src: src, dup: c.dup, target: target}
}

func (c *Cursor) Close() {
	c.used = true
}

func hasPrefix(prefix []byte) func(raw, _ []byte) bool {
	return func(raw, _ []byte) bool { return bytes.HasPrefix(raw, prefix) }
}

// iter walks a Source in one direction, stopping at the first entry keep
// rejects.
type iter struct {
	src      Source
	dup      bool
	first    func(Source) bool
	backward bool
	keep     func(raw, value []byte) bool

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
	var ok bool
	switch {
	case !it.started:
		it.started = true
		ok = it.first(it.src)
	case it.backward:
		ok = it.src.Prev()
	default:
		ok = it.src.Next()
	}
	if ok && it.keep != nil && !it.keep(it.src.Key(), it.src.Value()) {
		ok = false
	}
	if !ok {
		it.done = true
		it.err = it.src.Err()
		return false
	}
	if !it.dup {
		it.key, it.value = it.src.Key(), it.src.Value()
		return true
	}
	k, v, err := splitComposite(it.src.Key())
	if err != nil {
		it.done = true
		it.err = backend.WrapError(backend.ErrCorrupted, err)
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
	if it.src != nil {
		it.src.Close()
		it.src = nil
	}
}

// prevDupIter walks keys downwards from a start key. Raw order descends by
// key and then by value, so each key's duplicates form one contiguous group.
type prevDupIter struct {
	src    Source
	dup    bool
	target []byte

	started bool
	done    bool
	valid   bool
	key     []byte
	run     []byte
	err     error
}

// onKey reports whether the source is on an entry of the current key.
func (d *prevDupIter) onKey() bool {
	if d.dup {
		return bytes.HasPrefix(d.src.Key(), d.run)
	}
	return bytes.Equal(d.src.Key(), d.key)
}

func (d *prevDupIter) Next() bool {
	if d.done {
		return false
	}
	if !d.started {
		d.started = true
		if d.src.Seek(d.target) {
			d.valid = d.src.Prev()
		} else if d.src.Err() == nil {
			d.valid = d.src.Last()
		}
	} else {
		for d.valid && d.onKey() {
			d.valid = d.src.Prev()
		}
	}
	if !d.valid {
		d.done = true
		d.err = d.src.Err()
		return false
	}
	if !d.dup {
		d.key = append(d.key[:0:0], d.src.Key()...)
		return true
	}
	k, _, err := splitComposite(d.src.Key())
	if err != nil {
		d.done = true
		d.err = backend.WrapError(backend.ErrCorrupted, err)
		return false
	}
	d.key, d.run = k, runPrefix(k)
	return true
}

func (d *prevDupIter) Key() []byte { return d.key }

func (d *prevDupIter) Dups() backend.Iter {
	return &dupsIter{parent: d}
}

func (d *prevDupIter) Err() error { return d.err }

func (d *prevDupIter) Close() {
	d.done = true
	if d.src != nil {
		d.src.Close()
		d.src = nil
	}
}

// dupsIter borrows its parent's source and yields the current key's values
// in descending order.
type dupsIter struct {
	parent  *prevDupIter
	started bool
	done    bool
	value   []byte
}

func (it *dupsIter) Next() bool {
	p := it.parent
	if it.done || p.done {
		return false
	}
	if it.started {
		p.valid = p.src.Prev()
	}
	it.started = true
	if !p.valid || !p.onKey() {
		it.done = true
		return false
	}
	if !p.dup {
		it.value = p.src.Value()
		return true
	}
	it.value = p.src.Key()[len(p.run):]
	return true
}

func (it *dupsIter) Key() []byte   { return it.parent.key }
func (it *dupsIter) Value() []byte { return it.value }
func (it *dupsIter) Close()        { it.done = true }

func (it *dupsIter) Err() error {
	if it.parent.src == nil {
		return it.parent.err
	}
	return it.parent.src.Err()
}
