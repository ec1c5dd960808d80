// Package ordered implements the backend contract on top of any engine that
// offers a single ordered byte keyspace with snapshot reads and one writer.
//
// Duplicate-sorted databases are emulated with composite keys, databases
// live either in their own engine namespace or under a 4-byte id prefix, and
// a small catalog keeps names, flags and the committed transaction counter.
// The bbolt, pebble, goleveldb, RocksDB and safe adapters only supply raw
// views; everything above them is shared.
package ordered

import "bytes"

// Source is a positioned iterator over raw entries in ascending key order.
// Every positioning method reports whether the source is now on an entry.
type Source interface {
	First() bool
	Last() bool
	// Seek moves to the first entry whose key is >= key.
	Seek(key []byte) bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Table is one database's keyspace as seen by a transaction.
type Table interface {
	// Get returns the stored value and whether the key exists.
	Get(key []byte) ([]byte, bool, error)
	NewSource() (Source, error)
}

// MutableTable is a Table inside a write transaction.
type MutableTable interface {
	Table
	Set(key, value []byte) error
	Delete(key []byte) error
}

// prefixed confines a source to keys that start with prefix and hides the
// prefix from callers.
type prefixed struct {
	src    Source
	prefix []byte
	upper  []byte
	valid  bool
}

// Prefixed returns a view of src restricted to keys beginning with prefix.
func Prefixed(src Source, prefix []byte) Source {
	return &prefixed{src: src, prefix: prefix, upper: successor(prefix)}
}

func (p *prefixed) check(ok bool) bool {
	p.valid = ok && bytes.HasPrefix(p.src.Key(), p.prefix)
	return p.valid
}

func (p *prefixed) First() bool {
	return p.check(p.src.Seek(p.prefix))
}

func (p *prefixed) Last() bool {
	if p.upper != nil && p.src.Seek(p.upper) {
		return p.check(p.src.Prev())
	}
	if p.src.Err() != nil {
		p.valid = false
		return false
	}
	return p.check(p.src.Last())
}

func (p *prefixed) Seek(key []byte) bool {
	k := make([]byte, 0, len(p.prefix)+len(key))
	k = append(append(k, p.prefix...), key...)
	return p.check(p.src.Seek(k))
}

func (p *prefixed) Next() bool {
	if !p.valid {
		return false
	}
	return p.check(p.src.Next())
}

func (p *prefixed) Prev() bool {
	if !p.valid {
		return false
	}
	return p.check(p.src.Prev())
}

func (p *prefixed) Key() []byte   { return p.src.Key()[len(p.prefix):] }
func (p *prefixed) Value() []byte { return p.src.Value() }
func (p *prefixed) Err() error    { return p.src.Err() }
func (p *prefixed) Close() error  { return p.src.Close() }

// successor returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func successor(prefix []byte) []byte {
	up := append([]byte{}, prefix...)
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] != 0xff {
			up[i]++
			return up[:i+1]
		}
	}
	return nil
}

// KV is a raw read view over a whole engine keyspace.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	NewSource() (Source, error)
}

// MutableKV is a raw write view over a whole engine keyspace.
type MutableKV interface {
	KV
	Set(key, value []byte) error
	Delete(key []byte) error
}

// prefixTable maps a Table onto a prefixed range of a KV.
type prefixTable struct {
	kv     KV
	prefix []byte
}

func (t *prefixTable) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	return append(append(out, t.prefix...), k...)
}

func (t *prefixTable) Get(key []byte) ([]byte, bool, error) {
	return t.kv.Get(t.key(key))
}

func (t *prefixTable) NewSource() (Source, error) {
	src, err := t.kv.NewSource()
	if err != nil {
		return nil, err
	}
	return Prefixed(src, t.prefix), nil
}

func (t *prefixTable) Set(key, value []byte) error {
	return t.kv.(MutableKV).Set(t.key(key), value)
}

func (t *prefixTable) Delete(key []byte) error {
	return t.kv.(MutableKV).Delete(t.key(key))
}

// catalogPrefix is the reserved id prefix of the catalog in a shared keyspace.
var catalogPrefix = []byte{0, 0, 0, 0}

// PrefixView turns a raw keyspace into a View: every database lives under
// its 4-byte id and the catalog under id 0.
type PrefixView struct {
	KV      KV
	OnClose func()
	// OnCommit persists a writable view. Nil for read views.
	OnCommit func() error
}

func (v *PrefixView) Catalog() (Table, error) {
	return &prefixTable{kv: v.KV, prefix: catalogPrefix}, nil
}

func (v *PrefixView) Table(db *DB) (Table, error) {
	return &prefixTable{kv: v.KV, prefix: db.Prefix()}, nil
}

func (v *PrefixView) Commit() error {
	if v.OnCommit == nil {
		return nil
	}
	return v.OnCommit()
}

func (v *PrefixView) Release() {
	if v.OnClose != nil {
		v.OnClose()
	}
}
