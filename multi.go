package gkv

import "github.com/Giulio2002/gkv/backend"

// MultiStore holds a sorted set of values per key. Values under one key
// are kept in ascending order of their encoding.
//
// By default putting a pair that is already stored is a no-op. With
// WriteKeepCopies the pair is stored again as an independent copy: the
// copy's encoding carries a trailing 8-byte big-endian ordinal that
// readers strip, so it sorts right after the original and can be deleted
// on its own.
type MultiStore struct {
	db backend.Database
}

// Database returns the underlying database handle.
func (s MultiStore) Database() backend.Database {
	return s.db
}

// Get iterates the values of key in ascending order. A missing key yields
// an empty iterator.
func (s MultiStore) Get(r Readable, key []byte) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.IterDupOf(key), decodeStored), nil
}

// GetFirst returns the smallest value of key.
func (s MultiStore) GetFirst(r Readable, key []byte) (Value, bool, error) {
	return getValue(r, s.db, key, decodeStored)
}

// GetKeyValue reports whether the pair is stored.
func (s MultiStore) GetKeyValue(r Readable, key []byte, value Value) (bool, error) {
	enc, err := value.Encode()
	if err != nil {
		return false, err
	}
	cur, err := r.roCursor(s.db)
	if err != nil {
		return false, err
	}
	return cur.GetKeyValue(key, enc)
}

// Put adds value to the set of key. An exact duplicate is ignored.
func (s MultiStore) Put(w *Writer, key []byte, value Value) error {
	return s.PutWithFlags(w, key, value, WriteDefaults)
}

// PutWithFlags adds value to the set of key. WriteNoDupData rejects an
// exact duplicate with a KeyExist error, WriteKeepCopies stores it as a
// separate copy.
func (s MultiStore) PutWithFlags(w *Writer, key []byte, value Value, flags backend.WriteFlags) error {
	enc, err := value.Encode()
	if err != nil {
		return err
	}
	if flags&WriteKeepCopies == 0 {
		return w.putRaw(s.db, key, enc, flags)
	}

	last, found, err := s.lastOccurrence(w, key, enc)
	if err != nil {
		return err
	}
	if !found {
		return w.putRaw(s.db, key, enc, flags)
	}
	ord, _ := copyOrdinal(last, enc)
	return w.putRaw(s.db, key, appendOrdinal(enc, ord+1), flags&^WriteNoDupData)
}

// Delete removes one occurrence of the pair, the newest copy first. A
// missing pair is a NotFound error.
func (s MultiStore) Delete(w *Writer, key []byte, value Value) error {
	enc, err := value.Encode()
	if err != nil {
		return err
	}
	last, found, err := s.lastOccurrence(w, key, enc)
	if err != nil {
		return err
	}
	if !found {
		return backend.KeyError(backend.ErrNotFound, key)
	}
	return w.deleteRaw(s.db, key, last)
}

// DeleteAll removes every value of key. A missing key is not an error.
func (s MultiStore) DeleteAll(w *Writer, key []byte) error {
	err := w.deleteRaw(s.db, key, nil)
	if backend.IsNotFound(err) {
		return nil
	}
	return err
}

func (s MultiStore) Clear(w *Writer) error {
	return w.Clear(s.db)
}

// IterStart walks every pair in ascending order.
func (s MultiStore) IterStart(r Readable) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.Iter(), decodeStored), nil
}

// IterFrom walks ascending from the first key >= key.
func (s MultiStore) IterFrom(r Readable, key []byte) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.IterFrom(key), decodeStored), nil
}

// IterPrev walks every pair in descending order.
func (s MultiStore) IterPrev(r Readable) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.IterPrev(), decodeStored), nil
}

// IterPrevDupFrom walks keys at or below key in descending order. Each
// key's values are available through Dups, also in descending order.
func (s MultiStore) IterPrevDupFrom(w RwReadable, key []byte) (*DupIter, error) {
	cur, err := w.rwCursor(s.db)
	if err != nil {
		return nil, err
	}
	return &DupIter{it: cur.IterPrevDupFrom(key)}, nil
}

// lastOccurrence returns the stored bytes of the highest copy of enc under
// key. Copies of enc sort contiguously right after enc itself because no
// encoding is a prefix of another.
func (s MultiStore) lastOccurrence(r Readable, key, enc []byte) ([]byte, bool, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, false, err
	}
	it := cur.IterDupFrom(key, enc)
	defer it.Close()

	var last []byte
	found := false
	for it.Next() {
		if _, ok := copyOrdinal(it.Value(), enc); !ok {
			break
		}
		last = append(last[:0], it.Value()...)
		found = true
	}
	return last, found, it.Err()
}
