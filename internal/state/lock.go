package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// LockFileName is the name of the lock file in the state directory.
	LockFileName = "galah.lock"

	// StaleLockThreshold is the maximum age of a lock before it's considered
	// stale on platforms without advisory locks.
	StaleLockThreshold = 10 * time.Minute
)

var (
	ErrLockExists = errors.New("installer lock exists: another run may be in progress")

	// errFlockUnsupported is returned by the advisory lock helpers on
	// platforms that have none.
	errFlockUnsupported = errors.New("advisory locks not supported")

	// errLockReplaced means the locked file no longer sits at the lock path.
	errLockReplaced = errors.New("lock file was replaced")
)

// Lock serializes installer runs against one state directory.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to take the installer lock in dir.
// Where advisory locks exist, the lock is the advisory lock on the lock file:
// a file left by a dead run is reclaimed simply by locking it, and a lock
// file is only ever removed by the run holding it. Elsewhere the file is
// created with O_CREATE|O_EXCL and files older than StaleLockThreshold are
// reclaimed.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, LockFileName)

	var file *os.File
	var err error
	if advisoryLocks {
		file, err = lockAdvisory(lockPath)
	} else {
		file, err = lockExclusive(lockPath)
	}
	if err != nil {
		return nil, err
	}

	// Write lock metadata (PID and timestamp)
	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := file.Truncate(0); err != nil {
		releaseFile(file, lockPath)
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(lockData), 0); err != nil {
		releaseFile(file, lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		releaseFile(file, lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{
		path: lockPath,
		file: file,
	}, nil
}

// lockAdvisory opens or creates the lock file and takes its advisory lock.
// A holder removes the file before closing it, so a run that locked an
// unlinked file lost the race and retries once against the current file.
func lockAdvisory(lockPath string) (*os.File, error) {
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}
		err = holdLockFile(file, lockPath)
		if err == nil {
			return file, nil
		}
		file.Close()
		if !errors.Is(err, errLockReplaced) {
			return nil, err
		}
	}
	return nil, ErrLockExists
}

// lockExclusive creates the lock file exclusively, reclaiming one older than
// StaleLockThreshold.
func lockExclusive(lockPath string) (*os.File, error) {
	file, err := createLockFile(lockPath)
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	if !isLockStale(lockPath) {
		return nil, ErrLockExists
	}
	// Remove stale lock and retry once
	os.Remove(lockPath)
	file, err = createLockFile(lockPath)
	if err != nil {
		return nil, ErrLockExists
	}
	return file, nil
}

func createLockFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
}

// holdLockFile takes the advisory lock on file and confirms that lockPath
// still names it. It returns ErrLockExists when another run holds the lock
// and errLockReplaced when the file was removed or replaced in the meantime.
func holdLockFile(file *os.File, lockPath string) error {
	if err := tryLockFile(file); err != nil {
		return ErrLockExists
	}

	held, err := file.Stat()
	if err != nil {
		unlockFile(file)
		return fmt.Errorf("stat lock file: %w", err)
	}
	current, err := os.Stat(lockPath)
	if err != nil || !os.SameFile(held, current) {
		unlockFile(file)
		return errLockReplaced
	}
	return nil
}

// releaseFile removes a held lock file and closes it, in that order.
func releaseFile(file *os.File, lockPath string) {
	os.Remove(lockPath)
	file.Close()
}

// Release releases the lock. Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l.file != nil {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.file.Close()
			l.file = nil
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.file.Close()
		l.file = nil
	}
	return nil
}

// isLockStale reports whether the lock file at lockPath is older than
// StaleLockThreshold. It is used only where advisory locks are unavailable.
func isLockStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return time.Since(info.ModTime()) > StaleLockThreshold
}
