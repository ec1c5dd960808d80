package ordered

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/Giulio2002/gkv/backend"
	"github.com/Giulio2002/gkv/internal/fastmap"
)

// DB is the database handle of every ordered engine.
type DB struct {
	name   string
	id     uint32
	flags  backend.DatabaseFlags
	prefix []byte
	env    *Environment
}

func newDB(env *Environment, name string, id uint32, flags backend.DatabaseFlags) *DB {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, id)
	return &DB{name: name, id: id, flags: flags, prefix: p, env: env}
}

func (d *DB) Name() string                 { return d.name }
func (d *DB) Flags() backend.DatabaseFlags { return d.flags }

// ID is the catalog id, unique within one environment.
func (d *DB) ID() uint32 { return d.id }

// Prefix is the big-endian id used as the key prefix in shared keyspaces.
func (d *DB) Prefix() []byte { return d.prefix }

func (d *DB) dupSort() bool { return d.flags&backend.DBDupSort != 0 }

// handles caches open handles by catalog id.
type handles struct {
	mu   sync.RWMutex
	byID fastmap.Map[*DB]
}

func (h *handles) get(id uint32) (*DB, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byID.Get(id)
}

// intern returns the cached handle for id, storing db when none exists.
func (h *handles) intern(db *DB) *DB {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.byID.Get(db.id); ok {
		return cur
	}
	h.byID.Set(db.id, db)
	return db
}

// Catalog layout, inside the catalog table:
//
//	"db/"+name -> id u32 BE, flags u32 BE
//	"seq"      -> last assigned id u32 BE
//	"txn"      -> last committed write transaction id u64 BE
var (
	catDBPrefix = []byte("db/")
	catSeqKey   = []byte("seq")
	catTxnKey   = []byte("txn")
)

func catalogKey(name string) []byte {
	return append(append([]byte{}, catDBPrefix...), name...)
}

func catalogLookup(t Table, name string) (id uint32, flags backend.DatabaseFlags, found bool, err error) {
	v, ok, err := t.Get(catalogKey(name))
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if len(v) != 8 {
		return 0, 0, false, backend.NewError(backend.ErrCorrupted)
	}
	return binary.BigEndian.Uint32(v), backend.DatabaseFlags(binary.BigEndian.Uint32(v[4:])), true, nil
}

func catalogNames(t Table) ([]string, error) {
	src, err := t.NewSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var names []string
	for ok := src.Seek(catDBPrefix); ok && bytes.HasPrefix(src.Key(), catDBPrefix); ok = src.Next() {
		names = append(names, string(src.Key()[len(catDBPrefix):]))
	}
	return names, src.Err()
}

func catalogCreate(t MutableTable, name string, flags backend.DatabaseFlags, maxDBs uint32) (uint32, error) {
	names, err := catalogNames(t)
	if err != nil {
		return 0, err
	}
	if uint32(len(names)) >= maxDBs {
		return 0, backend.NewError(backend.ErrDBsFull)
	}
	seq, err := readCounter(t, catSeqKey)
	if err != nil {
		return 0, err
	}
	id := uint32(seq) + 1

	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v, id)
	binary.BigEndian.PutUint32(v[4:], uint32(flags))
	if err := t.Set(catalogKey(name), v); err != nil {
		return 0, err
	}
	s := make([]byte, 4)
	binary.BigEndian.PutUint32(s, id)
	return id, t.Set(catSeqKey, s)
}

func readCounter(t Table, key []byte) (uint64, error) {
	v, ok, err := t.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	switch len(v) {
	case 4:
		return uint64(binary.BigEndian.Uint32(v)), nil
	case 8:
		return binary.BigEndian.Uint64(v), nil
	}
	return 0, backend.NewError(backend.ErrCorrupted)
}

func bumpTxnID(t MutableTable) (uint64, error) {
	n, err := readCounter(t, catTxnKey)
	if err != nil {
		return 0, err
	}
	n++
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n)
	return n, t.Set(catTxnKey, v)
}
