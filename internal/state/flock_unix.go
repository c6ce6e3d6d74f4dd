//go:build unix

package state

import (
	"os"

	"golang.org/x/sys/unix"
)

// advisoryLocks reports whether tryLockFile is implemented.
const advisoryLocks = true

// tryLockFile takes an exclusive advisory lock without blocking.
func tryLockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
