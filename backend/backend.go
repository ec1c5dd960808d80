// Package backend defines the capability contract a storage engine must
// satisfy to host gkv stores: an Environment that hands out read-only and
// read-write transactions, cursors opened from those transactions, and the
// lazy iterators the cursors turn into.
//
// Every store operation in package gkv is written against these interfaces
// only, so the same code runs over the memory-mapped MDBX engine, bbolt, the
// LSM engines, or the non-mapped safe engine.
//
// Lifetime rules:
//   - A transaction is Active until Commit or Abort; afterwards every method
//     fails with ErrBadTxn. Abort is idempotent.
//   - A cursor is valid while its transaction is Active and is consumed by the
//     first Iter*, GetKeyValue or Close call. The iterator owns the cursor and
//     closes it in Close.
//   - Byte slices returned by Get, Iter.Key and Iter.Value are only valid until
//     the next call on the same iterator or the end of the transaction,
//     whichever comes first.
package backend

// Database is an opaque handle to one named table of an Environment.
type Database interface {
	Name() string
	Flags() DatabaseFlags
}

// Stat describes one database or the whole environment.
type Stat struct {
	PageSize      uint32
	Depth         uint32
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
}

// Info describes an environment.
type Info struct {
	MapSize    uint64
	LastPgno   uint64
	LastTxnID  uint64
	MaxReaders uint32
	NumReaders uint32
}

// Environment is one open engine instance bound to one filesystem location.
type Environment interface {
	// DatabaseNames lists the named databases.
	DatabaseNames() ([]string, error)

	// OpenDatabase opens an existing database. A missing database yields
	// an ErrDatabaseNotFound error.
	OpenDatabase(name string) (Database, error)

	// CreateDatabase opens or creates a database with the given flags.
	CreateDatabase(name string, flags DatabaseFlags) (Database, error)

	// BeginRo starts a snapshot transaction.
	BeginRo() (RoTransaction, error)

	// BeginRw starts the exclusive write transaction, blocking while
	// another one is active.
	BeginRw() (RwTransaction, error)

	Sync(force bool) error
	Stat() (Stat, error)
	Info() (Info, error)

	// SetMapSize changes the map size ceiling. No transaction may be active.
	SetMapSize(size uint64) error

	// Files lists the files backing the environment.
	Files() []string

	Version() string
	Close() error
}

// TryBeginner is implemented by environments that can refuse a second
// writer instead of blocking.
type TryBeginner interface {
	// TryBeginRw fails with ErrBusy when a write transaction is active.
	TryBeginRw() (RwTransaction, error)
}

// RoTransaction is a read-only snapshot transaction.
type RoTransaction interface {
	Get(db Database, key []byte) ([]byte, error)
	Stat(db Database) (Stat, error)
	OpenRoCursor(db Database) (RoCursor, error)
	Abort()
}

// RwTransaction is the exclusive read-write transaction.
type RwTransaction interface {
	Get(db Database, key []byte) ([]byte, error)
	Stat(db Database) (Stat, error)
	OpenRoCursor(db Database) (RoCursor, error)

	// OpenRwCursor opens the cursor that can walk duplicate runs backwards.
	OpenRwCursor(db Database) (RwCursor, error)

	Put(db Database, key, value []byte, flags WriteFlags) error

	// Delete removes the exact pair when value is non-nil, otherwise every
	// value stored under key. Absence yields ErrNotFound.
	Delete(db Database, key, value []byte) error

	Clear(db Database) error
	Commit() error
	Abort()
}

// RoCursor is a positional handle into one database.
type RoCursor interface {
	// Iter walks every entry in ascending order.
	Iter() Iter

	// IterFrom walks ascending from the first entry whose key is >= key.
	IterFrom(key []byte) Iter

	// IterDupOf walks the duplicate run of key.
	IterDupOf(key []byte) Iter

	// IterDupFrom walks the duplicate run of key starting at the first
	// value >= value.
	IterDupFrom(key, value []byte) Iter

	// IterPrev walks every entry in descending order.
	IterPrev() Iter

	// GetKeyValue reports whether the exact pair exists.
	GetKeyValue(key, value []byte) (bool, error)

	Close()
}

// RwCursor adds reverse duplicate traversal to RoCursor.
type RwCursor interface {
	RoCursor

	// IterPrevDupFrom walks keys at or below key in descending order,
	// yielding each key's duplicates in descending order.
	IterPrevDupFrom(key []byte) DupIter
}

// Iter is a lazy, finite, forward-only sequence of key/value pairs.
type Iter interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// DupIter yields one key at a time together with its duplicates.
type DupIter interface {
	Next() bool
	Key() []byte

	// Dups iterates the current key's values in descending order. It is
	// invalidated by the next call to Next.
	Dups() Iter

	Err() error
	Close()
}

// OpenFunc opens an environment at path.
type OpenFunc func(path string, cfg Config) (Environment, error)
