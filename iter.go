package gkv

import "github.com/Giulio2002/gkv/backend"

// Iter walks decoded key/value pairs. It owns the backend cursor it was
// created from and must be closed.
//
//	it, err := store.IterStart(r)
//	if err != nil {
//	    return err
//	}
//	defer it.Close()
//	for it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	return it.Err()
type Iter struct {
	it     backend.Iter
	decode func([]byte) (Value, error)
	value  Value
	err    error
}

func newIter(it backend.Iter, decode func([]byte) (Value, error)) *Iter {
	return &Iter{it: it, decode: decode}
}

// Next advances to the next pair. It returns false at the end or on error.
func (it *Iter) Next() bool {
	if it.err != nil || !it.it.Next() {
		return false
	}
	v, err := it.decode(it.it.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.value = v
	return true
}

// Key is valid until the next call to Next.
func (it *Iter) Key() []byte  { return it.it.Key() }
func (it *Iter) Value() Value { return it.value }

func (it *Iter) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Err()
}

func (it *Iter) Close() { it.it.Close() }

// DupIter walks keys in descending order together with their values.
type DupIter struct {
	it backend.DupIter
}

func (d *DupIter) Next() bool  { return d.it.Next() }
func (d *DupIter) Key() []byte { return d.it.Key() }
func (d *DupIter) Err() error  { return d.it.Err() }
func (d *DupIter) Close()      { d.it.Close() }

// Dups iterates the current key's values in descending order. The result
// is invalidated by the next call to Next and does not need closing.
func (d *DupIter) Dups() *Iter {
	return newIter(d.it.Dups(), decodeStored)
}

// IntegerIter is an Iter whose keys decode to K.
type IntegerIter[K Unsigned] struct {
	it  *Iter
	key K
	err error
}

func (it *IntegerIter[K]) Next() bool {
	if it.err != nil || !it.it.Next() {
		return false
	}
	k, err := DecodeKey[K](it.it.Key())
	if err != nil {
		it.err = err
		return false
	}
	it.key = k
	return true
}

func (it *IntegerIter[K]) Key() K       { return it.key }
func (it *IntegerIter[K]) Value() Value { return it.it.Value() }
func (it *IntegerIter[K]) Close()       { it.it.Close() }

func (it *IntegerIter[K]) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Err()
}

// IntegerDupIter is a DupIter whose keys decode to K.
type IntegerDupIter[K Unsigned] struct {
	it  *DupIter
	key K
	err error
}

func (d *IntegerDupIter[K]) Next() bool {
	if d.err != nil || !d.it.Next() {
		return false
	}
	k, err := DecodeKey[K](d.it.Key())
	if err != nil {
		d.err = err
		return false
	}
	d.key = k
	return true
}

func (d *IntegerDupIter[K]) Key() K      { return d.key }
func (d *IntegerDupIter[K]) Dups() *Iter { return d.it.Dups() }
func (d *IntegerDupIter[K]) Close()      { d.it.Close() }

func (d *IntegerDupIter[K]) Err() error {
	if d.err != nil {
		return d.err
	}
	return d.it.Err()
}
