package backend

import (
	"os"
	"path/filepath"
)

// Config holds the environment settings shared by every adapter.
type Config struct {
	MaxDBs     uint32
	MaxReaders uint32
	MapSize    uint64

	// EncryptionKey is a 32-byte key for engines that encrypt at rest.
	// Engines without encryption reject a non-empty key.
	EncryptionKey []byte

	// MakeDirIfNeeded creates the environment directory when missing.
	MakeDirIfNeeded bool

	// DiscardIfCorrupted starts from an empty store instead of failing
	// when the engine detects corruption on open.
	DiscardIfCorrupted bool

	Flags EnvironmentFlags
}

// DefaultConfig returns the default environment settings.
func DefaultConfig() Config {
	return Config{
		MaxDBs:     DefaultMaxDBs,
		MaxReaders: DefaultMaxReaders,
		MapSize:    DefaultMapSize,
	}
}

// WithDefaults fills zero fields with defaults.
func (c Config) WithDefaults() Config {
	if c.MaxDBs == 0 {
		c.MaxDBs = DefaultMaxDBs
	}
	if c.MaxReaders == 0 {
		c.MaxReaders = DefaultMaxReaders
	}
	if c.MapSize == 0 {
		c.MapSize = DefaultMapSize
	}
	return c
}

// ReadOnly reports whether EnvReadOnly is set.
func (c Config) ReadOnly() bool {
	return c.Flags&EnvReadOnly != 0
}

// NoSync reports whether EnvNoSync is set.
func (c Config) NoSync() bool {
	return c.Flags&EnvNoSync != 0
}

// PrepareDir checks the directory an environment lives in, creating it when
// MakeDirIfNeeded is set. With EnvNoSubdir the parent of path is checked.
func PrepareDir(path string, cfg Config) error {
	dir := path
	if cfg.Flags&EnvNoSubdir != 0 {
		dir = filepath.Dir(path)
	}
	fi, err := os.Stat(dir)
	if err == nil {
		if !fi.IsDir() {
			return WrapError(ErrIncompatible, &os.PathError{Op: "open", Path: dir, Err: os.ErrExist})
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return WrapError(ErrProblem, err)
	}
	if !cfg.MakeDirIfNeeded || cfg.ReadOnly() {
		return WrapError(ErrDirNotFound, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return WrapError(ErrProblem, err)
	}
	return nil
}

// RejectEncryption fails when cfg asks for encryption the engine lacks.
func RejectEncryption(engine string, cfg Config) error {
	if len(cfg.EncryptionKey) == 0 {
		return nil
	}
	e := NewError(ErrIncompatible)
	e.Message = engine + " does not support encryption at rest"
	return e
}
