package gkv

import "github.com/Giulio2002/gkv/backend"

// Environment flags (see backend.EnvironmentFlags).
const (
	EnvNoSubdir = backend.EnvNoSubdir
	EnvReadOnly = backend.EnvReadOnly
	EnvNoSync   = backend.EnvNoSync
	EnvWriteMap = backend.EnvWriteMap
)

// Database flags (see backend.DatabaseFlags).
const (
	DBDefaults   = backend.DBDefaults
	DBDupSort    = backend.DBDupSort
	DBIntegerKey = backend.DBIntegerKey
)

// Write flags.
const (
	// WriteDefaults overwrites in a single store and ignores an exact
	// duplicate in a multi store
	WriteDefaults = backend.WriteDefaults

	// WriteNoOverwrite fails with a KeyExist error if the key is present
	WriteNoOverwrite = backend.WriteNoOverwrite

	// WriteNoDupData fails with a KeyExist error if the exact pair is present
	WriteNoDupData = backend.WriteNoDupData

	// WriteKeepCopies stores an exact duplicate in a multi store as an
	// independent copy that is deleted separately
	WriteKeepCopies backend.WriteFlags = 0x100000
)
