// Package manager keeps one open environment per filesystem location.
//
// Most engines allow a single open instance per process, so code that may
// open the same path twice should go through a Manager:
//
//	m := manager.New()
//	defer m.Close()
//
//	h, err := m.GetOrCreate("/var/lib/app/db", manager.Opener(mdbx.Open, backend.DefaultConfig()))
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//	store, err := h.Rkv().OpenSingle("meta", gkv.StoreOptions{Create: true})
package manager

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/inconshreveable/log15"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Giulio2002/gkv"
	"github.com/Giulio2002/gkv/backend"
)

var log = log15.New("pkg", "gkv/manager")

// OpenFunc opens the environment at a canonical path.
type OpenFunc func(path string) (*gkv.Rkv, error)

// Opener adapts a backend Open function and a configuration to an
// OpenFunc.
func Opener(open backend.OpenFunc, cfg backend.Config) OpenFunc {
	return func(path string) (*gkv.Rkv, error) {
		return gkv.Open(open, path, cfg)
	}
}

type entry struct {
	rkv  *gkv.Rkv
	refs int
}

// Manager maps canonical paths to shared, reference-counted environments.
type Manager struct {
	envs   *xsync.MapOf[string, *entry]
	closed atomic.Bool
}

func New() *Manager {
	return &Manager{envs: xsync.NewMapOf[string, *entry]()}
}

// Handle is one reference to a shared environment.
type Handle struct {
	m        *Manager
	path     string
	rkv      *gkv.Rkv
	released atomic.Bool
}

// Rkv returns the shared environment. It stays open until every handle
// is released.
func (h *Handle) Rkv() *gkv.Rkv { return h.rkv }

// Path returns the canonical path the environment is registered under.
func (h *Handle) Path() string { return h.path }

// Release drops the reference. The last release closes the environment.
// Releasing twice is a no-op.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.m.release(h.path)
}

// Canonical resolves path to the absolute, symlink-free form used as the
// registry key. For a path that does not exist yet only its parent is
// resolved.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base), nil
	}
	return abs, nil
}

// Get returns a new handle to the environment registered for path.
func (m *Manager) Get(path string) (*Handle, bool) {
	key, err := Canonical(path)
	if err != nil {
		return nil, false
	}
	e, ok := m.envs.Compute(key, func(e *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		e.refs++
		return e, false
	})
	if !ok {
		return nil, false
	}
	return &Handle{m: m, path: key, rkv: e.rkv}, true
}

// GetOrCreate returns a new handle to the environment registered for path,
// opening it with open if none is registered. Concurrent callers for the
// same path share a single open.
func (m *Manager) GetOrCreate(path string, open OpenFunc) (*Handle, error) {
	if m.closed.Load() {
		return nil, errors.New("gkv/manager: manager is closed")
	}
	key, err := Canonical(path)
	if err != nil {
		return nil, err
	}

	var openErr error
	e, ok := m.envs.Compute(key, func(e *entry, loaded bool) (*entry, bool) {
		if loaded {
			e.refs++
			return e, false
		}
		rkv, err := open(key)
		if err != nil {
			openErr = err
			return nil, true
		}
		log.Debug("Registered environment", "path", key)
		return &entry{rkv: rkv, refs: 1}, false
	})
	if openErr != nil {
		return nil, openErr
	}
	if !ok {
		return nil, errors.New("gkv/manager: environment vanished during open")
	}
	return &Handle{m: m, path: key, rkv: e.rkv}, nil
}

func (m *Manager) release(key string) error {
	var last *entry
	m.envs.Compute(key, func(e *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		e.refs--
		if e.refs > 0 {
			return e, false
		}
		last = e
		return nil, true
	})
	if last == nil {
		return nil
	}
	// Close waits for open transactions, so it runs outside the map lock.
	log.Debug("Closing environment", "path", key)
	return last.rkv.Close()
}

// Len returns the number of registered environments.
func (m *Manager) Len() int {
	return m.envs.Size()
}

// Close closes every registered environment regardless of outstanding
// handles.
func (m *Manager) Close() error {
	m.closed.Store(true)
	var errs []error
	m.envs.Range(func(key string, _ *entry) bool {
		if e, ok := m.envs.LoadAndDelete(key); ok {
			if err := e.rkv.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return errors.Join(errs...)
}
