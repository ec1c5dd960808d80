package backend

// EnvironmentFlags configure how an environment is opened.
type EnvironmentFlags uint

const (
	// EnvDefaults is the default (durable, read-write, directory) mode
	EnvDefaults EnvironmentFlags = 0

	// EnvNoSubdir means the path is a file name, not a directory
	EnvNoSubdir EnvironmentFlags = 0x4000

	// EnvReadOnly opens the environment without write access
	EnvReadOnly EnvironmentFlags = 0x20000

	// EnvNoSync skips fsync on commit
	EnvNoSync EnvironmentFlags = 0x10000

	// EnvWriteMap maps data with write permission where the engine supports it
	EnvWriteMap EnvironmentFlags = 0x80000
)

// DatabaseFlags fix the shape of a database at creation time.
type DatabaseFlags uint

const (
	// DBDefaults is a plain database holding one value per key
	DBDefaults DatabaseFlags = 0

	// DBDupSort allows multiple values per key, kept in ascending byte order
	DBDupSort DatabaseFlags = 0x04

	// DBIntegerKey marks a database whose keys are fixed-width big-endian integers
	DBIntegerKey DatabaseFlags = 0x08
)

// WriteFlags modify a single put.
type WriteFlags uint

const (
	// WriteDefaults inserts or overwrites; an exact duplicate pair in a
	// dupsort database is a successful no-op
	WriteDefaults WriteFlags = 0

	// WriteNoOverwrite fails with ErrKeyExist if the key is present
	WriteNoOverwrite WriteFlags = 0x10

	// WriteNoDupData fails with ErrKeyExist if the exact pair is present
	WriteNoDupData WriteFlags = 0x20
)

// Environment defaults.
const (
	// DefaultMaxDBs is the default number of named databases
	DefaultMaxDBs = 16

	// DefaultMaxReaders is the default number of concurrent read transactions
	DefaultMaxReaders = 126

	// DefaultMapSize is the default map size ceiling (1 GiB)
	DefaultMapSize = 1 << 30

	// MaxKeySize is the largest key every adapter accepts
	MaxKeySize = 511
)
