package gkv

import "github.com/Giulio2002/gkv/backend"

// StoreOptions control how a store's database is opened.
type StoreOptions struct {
	// Create makes the database when it does not exist yet.
	Create bool

	// Flags fix the shape of a new database. The Open* methods add the
	// flags their store type requires.
	Flags backend.DatabaseFlags
}

// SingleStore holds at most one value per key.
type SingleStore struct {
	db backend.Database
}

// Database returns the underlying database handle.
func (s SingleStore) Database() backend.Database {
	return s.db
}

// Get returns the value of key. A missing key is ok == false.
func (s SingleStore) Get(r Readable, key []byte) (Value, bool, error) {
	return getValue(r, s.db, key, DecodeValue)
}

// Put stores value under key, replacing any previous value.
func (s SingleStore) Put(w *Writer, key []byte, value Value) error {
	return w.Put(s.db, key, value, WriteDefaults)
}

func (s SingleStore) PutWithFlags(w *Writer, key []byte, value Value, flags backend.WriteFlags) error {
	return w.Put(s.db, key, value, flags)
}

// Delete removes key. A missing key is a NotFound error.
func (s SingleStore) Delete(w *Writer, key []byte) error {
	return w.Delete(s.db, key, nil)
}

func (s SingleStore) Clear(w *Writer) error {
	return w.Clear(s.db)
}

// IterStart walks the store in ascending key order.
func (s SingleStore) IterStart(r Readable) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.Iter(), DecodeValue), nil
}

// IterFrom walks ascending from the first key >= key.
func (s SingleStore) IterFrom(r Readable, key []byte) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.IterFrom(key), DecodeValue), nil
}

// IterPrev walks the store in descending key order.
func (s SingleStore) IterPrev(r Readable) (*Iter, error) {
	cur, err := r.roCursor(s.db)
	if err != nil {
		return nil, err
	}
	return newIter(cur.IterPrev(), DecodeValue), nil
}
