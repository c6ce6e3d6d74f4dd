//go:build !unix

package state

import "os"

// advisoryLocks reports whether tryLockFile is implemented.
const advisoryLocks = false

func tryLockFile(*os.File) error {
	return errFlockUnsupported
}

func unlockFile(*os.File) error {
	return errFlockUnsupported
}
