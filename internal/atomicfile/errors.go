package atomicfile

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned by any operation on a File that was already
	// committed or discarded.
	ErrInvalidState = errors.New("atomic file is closed")

	// ErrSymlink is returned when the destination is a symbolic link.
	ErrSymlink = errors.New("destination is a symbolic link")
)

// FilesystemIntegrityError reports that the temporary file and the
// destination are on different devices, so no atomic rename is possible.
// It is an operator-fixable configuration problem, not a transient fault.
type FilesystemIntegrityError struct {
	TempPath string
	DestPath string
}

func (e *FilesystemIntegrityError) Error() string {
	return fmt.Sprintf("cannot atomically replace %s: temporary file %s is on a different filesystem", e.DestPath, e.TempPath)
}
