//go:build unix

package safe

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory lock on f without blocking. Read-only opens
// share the lock; writers hold it exclusively.
func lockFile(f *os.File, shared bool) error {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	return unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
