package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/galah-group/galah-installer/internal/logging"
)

// Mode is the permission every committed file ends with.
const Mode os.FileMode = 0600

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateDiscarded
)

// checkDevice reports whether two paths share a filesystem device.
// Tests replace it to simulate cross-device layouts.
var checkDevice = sameDevice

// syncDirectory flushes a directory entry. Tests replace it to simulate
// filesystems that refuse directory syncs.
var syncDirectory = syncDir

// Option configures Open.
type Option func(*options)

type options struct {
	logger      logging.Logger
	fallbackDir string
}

// WithLogger sets the logger used to record cleanup failures.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFallbackDir names a directory for the temporary file when the
// destination directory does not allow creating one. The fallback is only
// accepted when it is on the destination's device.
func WithFallbackDir(dir string) Option {
	return func(o *options) {
		o.fallbackDir = dir
	}
}

// File is a pending replacement of a destination path.
type File struct {
	dest    string
	tmp     *os.File
	tmpPath string
	state   state
	logger  logging.Logger
}

var _ io.WriteCloser = (*File)(nil)

// Open starts a replacement of dest. The temporary file is created next to
// dest with a name derived from its basename.
func Open(dest string, opts ...Option) (*File, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	if info, err := os.Lstat(abs); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("%s: %w", abs, ErrSymlink)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s: destination is a directory", abs)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat destination: %w", err)
	}

	dir := filepath.Dir(abs)
	pattern := "." + filepath.Base(abs) + "-"

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		if o.fallbackDir == "" || !errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("create temporary file: %w", err)
		}
		tmp, err = openFallback(o.fallbackDir, pattern, dir, abs)
		if err != nil {
			return nil, err
		}
	}

	if err := tmp.Chmod(Mode); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("set temporary file mode: %w", err)
	}

	return &File{
		dest:    abs,
		tmp:     tmp,
		tmpPath: tmp.Name(),
		state:   stateOpen,
		logger:  logging.OrNop(o.logger),
	}, nil
}

// openFallback creates the temporary file in fallbackDir, failing fast when
// that directory cannot be renamed into destDir.
func openFallback(fallbackDir, pattern, destDir, dest string) (*os.File, error) {
	tmp, err := os.CreateTemp(fallbackDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temporary file in fallback directory: %w", err)
	}

	same, err := checkDevice(tmp.Name(), destDir)
	if err != nil || !same {
		tmp.Close()
		os.Remove(tmp.Name())
		if err != nil {
			return nil, fmt.Errorf("compare devices: %w", err)
		}
		return nil, &FilesystemIntegrityError{TempPath: tmp.Name(), DestPath: dest}
	}
	return tmp, nil
}

// Name returns the path of the temporary file.
func (f *File) Name() string {
	return f.tmpPath
}

// Destination returns the absolute path that Commit replaces.
func (f *File) Destination() string {
	return f.dest
}

// Write appends p to the temporary file.
func (f *File) Write(p []byte) (int, error) {
	if f.state != stateOpen {
		return 0, ErrInvalidState
	}
	return f.tmp.Write(p)
}

// Commit flushes the temporary file and renames it over the destination.
// A failed Commit discards the temporary file; the destination is untouched.
// Once the rename succeeds Commit reports success: a failure to sync the
// directory afterwards is logged as a warning, since the new content is
// already in place.
func (f *File) Commit() error {
	if f.state != stateOpen {
		return ErrInvalidState
	}

	if err := f.tmp.Sync(); err != nil {
		f.abort()
		return fmt.Errorf("sync temporary file: %w", err)
	}
	if err := f.tmp.Close(); err != nil {
		f.abort()
		return fmt.Errorf("close temporary file: %w", err)
	}

	dir := filepath.Dir(f.dest)

	// Checked once immediately before rename.
	same, err := checkDevice(f.tmpPath, dir)
	if err != nil {
		f.abort()
		return fmt.Errorf("compare devices: %w", err)
	}
	if !same {
		f.abort()
		return &FilesystemIntegrityError{TempPath: f.tmpPath, DestPath: f.dest}
	}

	if err := os.Rename(f.tmpPath, f.dest); err != nil {
		f.abort()
		return fmt.Errorf("rename into place: %w", err)
	}
	f.state = stateCommitted

	if err := syncDirectory(dir); err != nil {
		f.logger.Warn("committed file may not survive a crash: directory sync failed", "dest", f.dest, "dir", dir, "error", err)
	}
	return nil
}

// Discard removes the temporary file, leaving the destination untouched.
// A temporary file that is already gone is not an error.
func (f *File) Discard() error {
	if f.state != stateOpen {
		return ErrInvalidState
	}
	f.state = stateDiscarded

	f.tmp.Close()
	if err := os.Remove(f.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temporary file: %w", err)
	}
	return nil
}

// Close discards the File unless it was committed or discarded already.
// It never returns an error; cleanup failures are logged.
func (f *File) Close() error {
	if f.state != stateOpen {
		return nil
	}
	f.logger.Debug("discarding uncommitted file", "dest", f.dest, "temp", f.tmpPath)
	if err := f.Discard(); err != nil {
		f.logger.Error("failed to discard temporary file", "temp", f.tmpPath, "error", err)
	}
	return nil
}

// abort discards after a failed commit step.
func (f *File) abort() {
	f.state = stateDiscarded
	f.tmp.Close()
	if err := os.Remove(f.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Error("failed to remove temporary file", "temp", f.tmpPath, "error", err)
	}
}

func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		// Some platforms cannot open directories for syncing.
		return nil
	}
	defer df.Close()
	return df.Sync()
}

// WriteFile atomically replaces dest with data.
func WriteFile(dest string, data []byte, opts ...Option) error {
	return Update(dest, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}, opts...)
}

// Update opens dest, passes the pending file to fn, and commits when fn
// returns nil. Any error from fn discards the replacement.
func Update(dest string, fn func(w io.Writer) error, opts ...Option) error {
	f, err := Open(dest, opts...)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	return f.Commit()
}
