package gkv

import "github.com/Giulio2002/gkv/backend"

// IntegerStore is a SingleStore keyed by K. Keys are stored through
// EncodeKey, so iteration follows numeric order.
type IntegerStore[K Unsigned] struct {
	inner SingleStore
}

func (s IntegerStore[K]) Database() backend.Database { return s.inner.db }

func (s IntegerStore[K]) Get(r Readable, key K) (Value, bool, error) {
	return s.inner.Get(r, EncodeKey(key))
}

func (s IntegerStore[K]) Put(w *Writer, key K, value Value) error {
	return s.inner.Put(w, EncodeKey(key), value)
}

func (s IntegerStore[K]) PutWithFlags(w *Writer, key K, value Value, flags backend.WriteFlags) error {
	return s.inner.PutWithFlags(w, EncodeKey(key), value, flags)
}

func (s IntegerStore[K]) Delete(w *Writer, key K) error {
	return s.inner.Delete(w, EncodeKey(key))
}

func (s IntegerStore[K]) Clear(w *Writer) error {
	return s.inner.Clear(w)
}

func (s IntegerStore[K]) IterStart(r Readable) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterStart(r))
}

func (s IntegerStore[K]) IterFrom(r Readable, key K) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterFrom(r, EncodeKey(key)))
}

func (s IntegerStore[K]) IterPrev(r Readable) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterPrev(r))
}

// MultiIntegerStore is a MultiStore keyed by K.
type MultiIntegerStore[K Unsigned] struct {
	inner MultiStore
}

func (s MultiIntegerStore[K]) Database() backend.Database { return s.inner.db }

func (s MultiIntegerStore[K]) Get(r Readable, key K) (*Iter, error) {
	return s.inner.Get(r, EncodeKey(key))
}

func (s MultiIntegerStore[K]) GetFirst(r Readable, key K) (Value, bool, error) {
	return s.inner.GetFirst(r, EncodeKey(key))
}

func (s MultiIntegerStore[K]) GetKeyValue(r Readable, key K, value Value) (bool, error) {
	return s.inner.GetKeyValue(r, EncodeKey(key), value)
}

func (s MultiIntegerStore[K]) Put(w *Writer, key K, value Value) error {
	return s.inner.Put(w, EncodeKey(key), value)
}

func (s MultiIntegerStore[K]) PutWithFlags(w *Writer, key K, value Value, flags backend.WriteFlags) error {
	return s.inner.PutWithFlags(w, EncodeKey(key), value, flags)
}

func (s MultiIntegerStore[K]) Delete(w *Writer, key K, value Value) error {
	return s.inner.Delete(w, EncodeKey(key), value)
}

func (s MultiIntegerStore[K]) DeleteAll(w *Writer, key K) error {
	return s.inner.DeleteAll(w, EncodeKey(key))
}

func (s MultiIntegerStore[K]) Clear(w *Writer) error {
	return s.inner.Clear(w)
}

func (s MultiIntegerStore[K]) IterStart(r Readable) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterStart(r))
}

func (s MultiIntegerStore[K]) IterFrom(r Readable, key K) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterFrom(r, EncodeKey(key)))
}

func (s MultiIntegerStore[K]) IterPrev(r Readable) (*IntegerIter[K], error) {
	return integerIter[K](s.inner.IterPrev(r))
}

func (s MultiIntegerStore[K]) IterPrevDupFrom(w RwReadable, key K) (*IntegerDupIter[K], error) {
	d, err := s.inner.IterPrevDupFrom(w, EncodeKey(key))
	if err != nil {
		return nil, err
	}
	return &IntegerDupIter[K]{it: d}, nil
}

func integerIter[K Unsigned](it *Iter, err error) (*IntegerIter[K], error) {
	if err != nil {
		return nil, err
	}
	return &IntegerIter[K]{it: it}, nil
}
