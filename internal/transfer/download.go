package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/galah-group/galah-installer/internal/logging"
)

const (
	// chunkSize is the read size while streaming a response body.
	chunkSize = 32 * 1024

	// FileMode is the permission of every downloaded file.
	FileMode os.FileMode = 0600
)

// Progress receives download progress. Implementations must tolerate a size
// of -1 when the server sends no Content-Length.
type Progress interface {
	Start(path string, size int64)
	Advance(n int)
	Done()
}

// Options configures a Downloader or a Pipeline.
type Options struct {
	// TempDir holds downloaded files; empty means os.TempDir().
	TempDir string

	Logger   logging.Logger
	Progress Progress
}

// Downloader streams response bodies into owner-only temporary files.
type Downloader struct {
	tempDir  string
	logger   logging.Logger
	progress Progress
}

// NewDownloader creates a Downloader.
func NewDownloader(opts Options) *Downloader {
	return &Downloader{
		tempDir:  opts.TempDir,
		logger:   logging.OrNop(opts.Logger),
		progress: opts.Progress,
	}
}

// Get downloads path over conn into a new temporary file and returns its
// name. The body is read in fixed-size chunks and the transfer aborts as soon
// as more than maxSize bytes arrive. On any failure the partial file is
// removed before returning.
func (d *Downloader) Get(ctx context.Context, conn *Conn, path string, maxSize int64) (string, error) {
	resp, err := conn.Get(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxSize {
		return "", fmt.Errorf("%s: %w: server announced %d bytes, limit is %d",
			path, ErrSizeLimitExceeded, resp.ContentLength, maxSize)
	}

	tmp, err := os.CreateTemp(d.tempDir, "galah-download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				d.logger.Error("failed to remove partial download", "path", tmpPath, "error", rmErr)
			}
		}
	}()

	if err := tmp.Chmod(FileMode); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}

	if d.progress != nil {
		d.progress.Start(path, resp.ContentLength)
		defer d.progress.Done()
	}

	var total int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxSize {
				d.logger.Warn("download exceeded size limit", "path", path, "limit", maxSize)
				return "", fmt.Errorf("%s: %w: more than %d bytes", path, ErrSizeLimitExceeded, maxSize)
			}
			if _, err := tmp.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("write temp file: %w", err)
			}
			if d.progress != nil {
				d.progress.Advance(n)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", &TransportError{Op: "read", Server: conn.Server(), Path: path, Err: readErr}
		}
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	cleanupNeeded = false
	d.logger.Debug("downloaded", "path", path, "bytes", total, "file", tmpPath)
	return tmpPath, nil
}
